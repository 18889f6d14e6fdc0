package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Command outcomes recorded in the journal.
const (
	CommandStatusSent   = "sent"
	CommandStatusFailed = "failed"
)

// CommandRecord is one dispatched command and its outcome.
type CommandRecord struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Channel    int       `json:"channel"`
	On         bool      `json:"on"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// CommandJournal records the outcome of every dispatched command.
type CommandJournal interface {
	RecordCommand(ctx context.Context, deviceID string, cmd Command, sendErr error) error
	ListCommands(ctx context.Context, deviceID string, limit int) ([]CommandRecord, error)
}

// SQLiteCommandJournal implements CommandJournal using SQLite.
type SQLiteCommandJournal struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCommandJournal creates a journal on an open connection.
func NewSQLiteCommandJournal(db *sql.DB) *SQLiteCommandJournal {
	return &SQLiteCommandJournal{db: db, now: time.Now}
}

// RecordCommand stores a command with status sent, or failed when sendErr is non-nil.
func (j *SQLiteCommandJournal) RecordCommand(ctx context.Context, deviceID string, cmd Command, sendErr error) error {
	if cmd.ID == "" {
		return fmt.Errorf("command id is required")
	}

	status := CommandStatusSent
	var errText sql.NullString
	if sendErr != nil {
		status = CommandStatusFailed
		errText = sql.NullString{String: sendErr.Error(), Valid: true}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO command_log (id, device_id, channel, state, source, status, error, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID,
		deviceID,
		cmd.Channel,
		boolToInt(cmd.On),
		cmd.Source,
		status,
		errText,
		cmd.CreatedAt.UTC().Format(timestampLayout),
		j.now().UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// ListCommands returns recent commands newest first.
func (j *SQLiteCommandJournal) ListCommands(ctx context.Context, deviceID string, limit int) ([]CommandRecord, error) {
	limit = clampLimit(limit)

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, device_id, channel, state, source, status, error, created_at, finished_at
		 FROM command_log
		 WHERE device_id = ?
		 ORDER BY finished_at DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	records := make([]CommandRecord, 0, limit)
	for rows.Next() {
		var (
			rec                   CommandRecord
			state                 int
			errText               sql.NullString
			createdAt, finishedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Channel, &state, &rec.Source,
			&rec.Status, &errText, &createdAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		rec.On = state == 1
		rec.Error = errText.String
		if rec.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		if rec.FinishedAt, err = parseTimestamp(finishedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return records, nil
}
