package device

import (
	"context"
	"time"
)

// StateHistoryEntry is one recorded channel change.
//
// History is an audit trail only. It is never read back to seed the Store
// after a restart.
type StateHistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Channel   int       `json:"channel"`
	On        bool      `json:"on"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves channel change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange persists a store Change for the given device.
	RecordStateChange(ctx context.Context, deviceID string, change Change) error

	// GetHistory returns recent entries for one channel, newest first.
	// Implementations may clamp limit.
	GetHistory(ctx context.Context, deviceID string, channel, limit int) ([]StateHistoryEntry, error)
}
