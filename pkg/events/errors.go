package events

import "errors"

var (
	// ErrUnknownEventType is returned for envelopes that are neither clicks nor key presses.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrMalformedEvent is returned for envelopes that cannot be decoded.
	ErrMalformedEvent = errors.New("malformed event")
)
