// Package outbox defines the transactional outbox (C3): the OutboxMessage
// record and the Store port the transactional writer inserts into and the
// dispatcher polls.
//
// Grounded on the teacher's dual-write gap (pkg/sqlite/eventstore.go appends
// to the log and leaves publication to a separate pkg/nats EventBus with no
// shared transaction) and on the pack's outbox implementations
// (other_examples Kmassidik-mercuria outbox.go, zedaapi event_outbox.go),
// reworked in the teacher's functional-options, sqlcgen-flavored query style.
package outbox

import "time"

// Status is the lifecycle state of an OutboxMessage (spec §3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
	StatusFailed     Status = "failed"
)

// Message is a row in the outbox table.
type Message struct {
	OutboxID      string
	EventID       string
	EventName     string
	AggregateID   string
	OccurredAt    time.Time
	CorrelationID string
	CausationID   string
	Payload       []byte
	Status        Status
	Attempts      int
	NextAttemptAt *time.Time
	LastError     string
}
