package eventcodec

import (
	"errors"
	"fmt"
)

// Sentinels, grounded on the teacher's pkg/eventsourcing/errors.go tagged-
// error style; use errors.Is against these, not the concrete types.
var (
	ErrUnknownEventType = errors.New("eventcodec: unknown event type")
	ErrMalformedPayload = errors.New("eventcodec: malformed payload")
)

// UnknownEventTypeError names the event name the registry could not find.
// The dispatcher treats this as a poison-message candidate (spec §4.1);
// the projection engine logs and skips it.
type UnknownEventTypeError struct {
	EventName string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("eventcodec: unknown event type %q", e.EventName)
}

func (e *UnknownEventTypeError) Is(target error) bool {
	return target == ErrUnknownEventType
}

// MalformedPayloadError wraps the underlying decode failure.
type MalformedPayloadError struct {
	EventName string
	Cause     error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("eventcodec: malformed payload for %q: %v", e.EventName, e.Cause)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Cause
}

func (e *MalformedPayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}
