// Package broker defines the Broker port (spec §6 "Broker publish wire
// format") that the outbox dispatcher (C5) publishes through, plus the
// concrete drivers that implement it.
package broker

import (
	"context"
	"time"
)

// Message is what the dispatcher hands to a Broker for one outbox row.
// Field names mirror spec §6's header list directly.
type Message struct {
	MessageID     string // EventId, for consumer dedup
	CorrelationID string
	EventName     string // routing key / Type header
	ContentType   string // always "application/json"
	OccurredAt    time.Time
	Body          []byte
}

// Broker is the publish-only port the dispatcher depends on. The broker
// itself (message transport, durability, consumer-side dedup) is out of
// scope for this core (spec §1); only this interface is.
type Broker interface {
	// Publish sends msg with at-least-once semantics. The implementation is
	// responsible for declaring its topic/exchange durable on first publish
	// (spec §6).
	Publish(ctx context.Context, msg Message) error

	// Close releases the broker connection.
	Close() error
}
