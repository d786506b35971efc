// Package eventlog defines the append-only event log (C2): the data model
// for a persisted Event, its Metadata, and the EventStore port that the
// transactional writer and the projection engine read from.
//
// Grounded on the teacher's pkg/domain/event.go and pkg/eventsourcing/event.go,
// generalized from a protobuf-aggregate-specific Event to the spec's opaque,
// codec-agnostic Event carrying a pre-serialized Payload.
package eventlog

import "time"

// Metadata is the contextual record carried by every event (spec §3).
type Metadata struct {
	EventID        string
	AggregateID    string
	Version        int64
	OccurredAt     time.Time
	CorrelationID  string
	CausationID    string
	Actor          string
	IdempotencyKey string
	SchemaVersion  int
	EventName      string
}

// Event is an immutable fact: metadata plus an opaque, already-serialized
// payload. The core never interprets Payload; only pkg/eventcodec does.
type Event struct {
	Metadata
	Payload []byte
}

// NewUncommitted constructs the i-th uncommitted event for an aggregate
// command. Version is left at 0; the transactional writer (C4) assigns the
// real Version on append (spec §4.4 step 4) and preserves EventID and
// IdempotencyKey as given here.
func NewUncommitted(eventID, aggregateID, eventName string, payload []byte, meta Metadata) Event {
	meta.EventID = eventID
	meta.AggregateID = aggregateID
	meta.EventName = eventName
	return Event{Metadata: meta, Payload: payload}
}

// WithVersion returns a copy of the event stamped with the given version.
// Used by the writer to assign Version = expectedVersion + i while
// preserving EventID and IdempotencyKey (spec §4.4 step 4).
func (e Event) WithVersion(v int64) Event {
	e.Version = v
	return e
}
