package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementRelayState   = "relay_state"
	measurementRelayCommand = "relay_command"
)

// WriteChannelState records the effective state of one relay channel.
//
// Tags are low cardinality (device, channel, name, source); the state is
// written both as a boolean and as 0/1 so it can be graphed as a step line.
func (c *Client) WriteChannelState(deviceID string, channel int, name string, on bool, source string, at time.Time) {
	if c.closed.Load() {
		return
	}

	point := write.NewPoint(
		measurementRelayState,
		map[string]string{
			"device_id": deviceID,
			"channel":   strconv.Itoa(channel),
			"name":      name,
			"source":    source,
		},
		map[string]interface{}{
			"on":    on,
			"value": boolValue(on),
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandResult records the outcome of one dispatched command.
func (c *Client) WriteCommandResult(deviceID string, channel int, on bool, source string, sendErr error, at time.Time) {
	if c.closed.Load() {
		return
	}

	fields := map[string]interface{}{
		"on":      on,
		"success": sendErr == nil,
	}
	if sendErr != nil {
		fields["error"] = sendErr.Error()
	}

	point := write.NewPoint(
		measurementRelayCommand,
		map[string]string{
			"device_id": deviceID,
			"channel":   strconv.Itoa(channel),
			"source":    source,
		},
		fields,
		at,
	)

	c.writeAPI.WritePoint(point)
}

func boolValue(on bool) int {
	if on {
		return 1
	}
	return 0
}
