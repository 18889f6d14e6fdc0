package device

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChannelCount is the number of relay outputs on an IPX800 V3.
const ChannelCount = 8

// Source identifies which write path produced a channel state.
type Source string

// Channel state sources, in increasing order of trust for confirmed values.
const (
	SourcePoll       Source = "poll"
	SourceWebhook    Source = "webhook"
	SourceOptimistic Source = "optimistic"
	SourceExpired    Source = "expired"
)

// Command origins.
const (
	CommandSourceAPI  = "api"
	CommandSourceMQTT = "mqtt"
	CommandSourceCLI  = "cli"
)

// ValidChannel returns ErrInvalidChannel unless index is within 1..ChannelCount.
func ValidChannel(index int) error {
	if index < 1 || index > ChannelCount {
		return fmt.Errorf("%w: %d (want 1-%d)", ErrInvalidChannel, index, ChannelCount)
	}
	return nil
}

// Command is a queued request to switch one relay.
// It is consumed exactly once and never retried.
type Command struct {
	ID        string    `json:"id"`
	Channel   int       `json:"channel"`
	On        bool      `json:"on"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCommand builds a Command for a valid channel.
func NewCommand(channel int, on bool, source string) (Command, error) {
	if err := ValidChannel(channel); err != nil {
		return Command{}, err
	}
	return Command{
		ID:        uuid.NewString(),
		Channel:   channel,
		On:        on,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Value returns the device encoding of the desired state ("0" or "1").
func (c Command) Value() string {
	if c.On {
		return "1"
	}
	return "0"
}

// ChannelState is a read-only view of one channel.
type ChannelState struct {
	Index int `json:"index"`

	// On is the effective state: the optimistic value while it is pending,
	// otherwise the confirmed value.
	On bool `json:"on"`

	// Confirmed is the last value reported by a poll or webhook.
	Confirmed bool `json:"confirmed"`

	// Known is false until the device has reported this channel once.
	Known bool `json:"known"`

	// Pending is set while an optimistic write shadows the confirmed value.
	Pending      bool       `json:"pending"`
	PendingSince *time.Time `json:"pending_since,omitempty"`

	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Change is delivered to store listeners when a channel's effective state
// changes, or when a channel is confirmed for the first time.
type Change struct {
	Index    int       `json:"index"`
	On       bool      `json:"on"`
	Previous bool      `json:"previous"`
	Source   Source    `json:"source"`
	At       time.Time `json:"at"`
}
