package ipx800

import "errors"

// Domain errors for the IPX800 bridge package.
var (
	// ErrDeviceUnreachable is returned when the controller cannot be reached
	// (connection refused, DNS failure, timeout).
	ErrDeviceUnreachable = errors.New("ipx800: device unreachable")

	// ErrMalformedResponse is returned when status.xml cannot be parsed or
	// lacks one of led0..led7.
	ErrMalformedResponse = errors.New("ipx800: malformed response")

	// ErrCommandRejected is returned when the device answers a relay command
	// with a non-200 status.
	ErrCommandRejected = errors.New("ipx800: command rejected")

	// ErrInvalidWebhookRequest is returned when a webhook request is missing
	// state or index, or carries values outside their ranges.
	ErrInvalidWebhookRequest = errors.New("ipx800: invalid webhook request")

	// ErrDispatcherRunning is returned by Start on a dispatcher that is
	// already running.
	ErrDispatcherRunning = errors.New("ipx800: dispatcher already running")

	// ErrDispatcherStopped is returned by Enqueue after Stop.
	ErrDispatcherStopped = errors.New("ipx800: dispatcher stopped")

	// ErrInvalidConfig is returned when client options are unusable.
	ErrInvalidConfig = errors.New("ipx800: invalid configuration")
)
