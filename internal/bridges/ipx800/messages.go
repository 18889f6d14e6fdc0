package ipx800

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/device"
)

// Protocol is the protocol identifier carried in MQTT messages.
const Protocol = "ipx800"

// CommandMessage asks the bridge to switch one channel.
// Topic: graylogic/command/ipx800/{device_id}/{channel}
type CommandMessage struct {
	// ID correlates the command with its acknowledgments.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Command is "on", "off" or "toggle".
	Command string `json:"command"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`

	UserID string `json:"user_id,omitempty"`

	// DeviceID and Channel are taken from the topic, not the payload.
	DeviceID string `json:"-"`
	Channel  int    `json:"-"`
}

// Supported commands.
const (
	CommandOn     = "on"
	CommandOff    = "off"
	CommandToggle = "toggle"
)

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckQueued indicates the command was accepted into the dispatch queue.
	AckQueued AckStatus = "queued"

	// AckAccepted indicates the device answered the command with 200.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/ipx800/{device_id}/{channel}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Channel   int       `json:"channel"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeCommandRejected   = "COMMAND_REJECTED"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage reports the state of one channel.
// Topic: graylogic/state/ipx800/{device_id}/{channel}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Channel   int       `json:"channel"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`

	// State is {"on": bool, "confirmed": bool, "pending": bool, "available": bool}.
	State map[string]any `json:"state"`

	Source   device.Source `json:"source"`
	Protocol string        `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline is only ever published by the broker, as the LWT.
	HealthOffline HealthStatus = "offline"

	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the operational status of the bridge.
// Topic: graylogic/health/ipx800
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge          string            `json:"bridge"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          HealthStatus      `json:"status"`
	Version         string            `json:"version,omitempty"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	Device          *DeviceStatus     `json:"device,omitempty"`
	Statistics      *BridgeStatistics `json:"statistics,omitempty"`
	ChannelsManaged int               `json:"channels_managed"`
	Reason          string            `json:"reason,omitempty"`
}

// DeviceStatus describes the reachability of the IPX800.
type DeviceStatus struct {
	ID   string     `json:"id"`
	Poll PollStatus `json:"poll"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	CommandsSent    uint64 `json:"commands_sent"`
	CommandsFailed  uint64 `json:"commands_failed"`
	CommandsDropped uint64 `json:"commands_dropped"`
	QueueDepth      int    `json:"queue_depth"`
	StatePublished  uint64 `json:"state_published"`
	MQTTCommands    uint64 `json:"mqtt_commands"`
}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Channel:   cmd.Channel,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message from a channel view.
func NewStateMessage(deviceID, name string, ch device.ChannelState) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Channel:   ch.Index,
		Name:      name,
		Timestamp: time.Now().UTC(),
		State: map[string]any{
			"on":        ch.On,
			"confirmed": ch.Confirmed,
			"pending":   ch.Pending,
			"available": ch.Known,
		},
		Source:   ch.Source,
		Protocol: Protocol,
	}
}

// NewLWTMessage creates the Last Will and Testament published by the
// broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic structure constants.
const (
	// TopicPrefix is the base topic for all messages.
	TopicPrefix = "graylogic"

	// commandTopicParts is graylogic/command/ipx800/{device_id}/{channel}.
	commandTopicParts = 5
)

// CommandTopic returns the command topic for one channel.
func CommandTopic(deviceID string, channel int) string {
	return fmt.Sprintf("%s/command/%s/%s/%d", TopicPrefix, Protocol, deviceID, channel)
}

// AckTopic returns the acknowledgment topic for one channel.
func AckTopic(deviceID string, channel int) string {
	return fmt.Sprintf("%s/ack/%s/%s/%d", TopicPrefix, Protocol, deviceID, channel)
}

// StateTopic returns the state topic for one channel.
func StateTopic(deviceID string, channel int) string {
	return fmt.Sprintf("%s/state/%s/%s/%d", TopicPrefix, Protocol, deviceID, channel)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// CommandSubscribeTopic returns the wildcard covering every channel of a device.
func CommandSubscribeTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s/+", TopicPrefix, Protocol, deviceID)
}

// ParseCommandTopic extracts the device id and channel from a command topic.
func ParseCommandTopic(topic string) (string, int, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts || parts[0] != TopicPrefix || parts[1] != "command" || parts[2] != Protocol {
		return "", 0, fmt.Errorf("not a command topic: %q", topic)
	}
	channel, err := strconv.Atoi(parts[4])
	if err != nil {
		return "", 0, fmt.Errorf("channel %q in topic: %w", parts[4], device.ErrInvalidChannel)
	}
	if err := device.ValidChannel(channel); err != nil {
		return "", 0, err
	}
	return parts[3], channel, nil
}
