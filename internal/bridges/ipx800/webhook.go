package ipx800

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nerrad567/ipx800-bridge/internal/device"
)

// Webhook query parameters sent by the device.
const (
	WebhookPath       = "/api/ipx800_update"
	WebhookParamState = "state"
	WebhookParamIndex = "index"
	WebhookParamToken = "token"
	WebhookHeaderAuth = "X-IPX800-Token"
)

// Update is one channel change pushed by the device.
type Update struct {
	Index int
	On    bool
}

// ParseUpdate validates a webhook query. Both state and index must be
// present; state must be 0 or 1 and index within 1..8.
func ParseUpdate(q url.Values) (Update, error) {
	rawState, ok := lookup(q, WebhookParamState)
	if !ok {
		return Update{}, fmt.Errorf("%w: missing %s", ErrInvalidWebhookRequest, WebhookParamState)
	}
	rawIndex, ok := lookup(q, WebhookParamIndex)
	if !ok {
		return Update{}, fmt.Errorf("%w: missing %s", ErrInvalidWebhookRequest, WebhookParamIndex)
	}

	var on bool
	switch rawState {
	case "0":
	case "1":
		on = true
	default:
		return Update{}, fmt.Errorf("%w: state %q is not 0 or 1", ErrInvalidWebhookRequest, rawState)
	}

	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		return Update{}, fmt.Errorf("%w: index %q is not a number", ErrInvalidWebhookRequest, rawIndex)
	}
	if err := device.ValidChannel(index); err != nil {
		return Update{}, fmt.Errorf("%w: %w", ErrInvalidWebhookRequest, err)
	}

	return Update{Index: index, On: on}, nil
}

func lookup(q url.Values, key string) (string, bool) {
	values, ok := q[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	v := strings.TrimSpace(values[0])
	return v, v != ""
}
