package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"time"
)

// Migration errors.
var (
	ErrBadMigrationName = errors.New("database: bad migration file name")
	ErrMissingUp        = errors.New("database: down migration without up")
	ErrNoDownSQL        = errors.New("database: migration cannot be rolled back")
	ErrUnknownVersion   = errors.New("database: applied version not in schema")
)

// migrationFile matches 20260301_120000_initial_schema.up.sql.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// Step is one versioned schema change.
type Step struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// Schema is the ordered list of steps, oldest first.
type Schema []Step

// StepStatus reports whether a step has been applied.
type StepStatus struct {
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// LoadSchema reads every *.sql file in dir of fsys. Each step needs an
// .up.sql file; the .down.sql file is optional.
func LoadSchema(fsys fs.FS, dir string) (Schema, error) {
	files, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	steps := make(map[string]*Step)
	for _, file := range files {
		m := migrationFile.FindStringSubmatch(path.Base(file))
		if m == nil {
			return nil, fmt.Errorf("%w: %s", ErrBadMigrationName, path.Base(file))
		}
		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}

		version, name, direction := m[1], m[2], m[3]
		st, ok := steps[version]
		if !ok {
			st = &Step{Version: version, Name: name}
			steps[version] = st
		}
		if direction == "up" {
			st.Up = string(body)
		} else {
			st.Down = string(body)
		}
	}

	schema := make(Schema, 0, len(steps))
	for _, st := range steps {
		if st.Up == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingUp, st.Version)
		}
		schema = append(schema, *st)
	}
	sort.Slice(schema, func(i, j int) bool { return schema[i].Version < schema[j].Version })
	return schema, nil
}

// Migrate applies every step not yet recorded in schema_migrations and
// returns how many ran. Each step commits on its own, so a failure leaves
// the earlier steps in place and a rerun resumes at the failed one.
func (db *DB) Migrate(ctx context.Context, schema Schema) (int, error) {
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, st := range schema {
		if _, done := applied[st.Version]; done {
			continue
		}
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, st.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
				st.Version, st.Name, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return n, fmt.Errorf("applying %s_%s: %w", st.Version, st.Name, err)
		}
		n++
	}
	return n, nil
}

// Rollback reverts the most recently applied step and returns it. It
// returns a zero Step when nothing is applied.
func (db *DB) Rollback(ctx context.Context, schema Schema) (Step, error) {
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return Step{}, err
	}
	if len(applied) == 0 {
		return Step{}, nil
	}

	latest := ""
	for v := range applied {
		if v > latest {
			latest = v
		}
	}

	var st *Step
	for i := range schema {
		if schema[i].Version == latest {
			st = &schema[i]
			break
		}
	}
	if st == nil {
		return Step{}, fmt.Errorf("%w: %s", ErrUnknownVersion, latest)
	}
	if st.Down == "" {
		return Step{}, fmt.Errorf("%w: %s_%s", ErrNoDownSQL, st.Version, st.Name)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, st.Down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", st.Version)
		return err
	})
	if err != nil {
		return Step{}, fmt.Errorf("rolling back %s_%s: %w", st.Version, st.Name, err)
	}
	return *st, nil
}

// Status lists every step in schema with its applied time, if any.
func (db *DB) Status(ctx context.Context, schema Schema) ([]StepStatus, error) {
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]StepStatus, 0, len(schema))
	for _, st := range schema {
		s := StepStatus{Version: st.Version, Name: st.Name}
		if at, ok := applied[st.Version]; ok {
			s.AppliedAt = &at
		}
		out = append(out, s)
	}
	return out, nil
}

// appliedVersions creates the bookkeeping table on first use and returns
// the recorded versions.
func (db *DB) appliedVersions(ctx context.Context) (map[string]time.Time, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("creating schema_migrations: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var version, at string
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("reading schema_migrations: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339, at) //nolint:errcheck // written by Migrate
		applied[version] = ts
	}
	return applied, rows.Err()
}

func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
