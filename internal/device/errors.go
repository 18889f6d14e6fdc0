package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrInvalidChannel) {
//	    // reject the request
//	}
var (
	// ErrInvalidChannel is returned for a channel index outside 1..8.
	ErrInvalidChannel = errors.New("device: invalid channel")

	// ErrIncompleteStatus is returned when a poll result does not cover every channel.
	ErrIncompleteStatus = errors.New("device: incomplete status")
)
