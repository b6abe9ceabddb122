package relay

import "errors"

var (
	// ErrInvalidPayload is returned for count messages that fail to parse
	// or validate.
	ErrInvalidPayload = errors.New("relay: invalid count payload")

	// ErrCalculator is returned when the calculate-timing endpoint answers
	// with a non-200 status or an unusable body.
	ErrCalculator = errors.New("relay: calculator request failed")

	// ErrAlreadyStarted is returned by Start on a running relay.
	ErrAlreadyStarted = errors.New("relay: already started")
)
