package outbox

import (
	"context"
	"time"

	"github.com/kestrelhealth/waitqueue/pkg/eventlog"
)

// Store is the outbox port (C3).
type Store interface {
	// AddWithinTransaction inserts messages using the caller-supplied
	// transaction handle (shared with eventlog.Store.Append so the event
	// insert and the outbox insert commit atomically). A message whose
	// EventID already exists is a no-op (spec §4.3).
	AddWithinTransaction(ctx context.Context, tx eventlog.Tx, messages []Message) error

	// GetPending returns up to batchSize rows with Status Pending or Failed
	// and NextAttemptAt either unset or elapsed, ordered by OccurredAt ASC
	// (spec §4.3).
	GetPending(ctx context.Context, batchSize int) ([]Message, error)

	// MarkDispatched transitions a message to Dispatched: increments
	// Attempts, clears NextAttemptAt and LastError.
	MarkDispatched(ctx context.Context, eventID string) error

	// MarkFailed transitions a message to Failed: increments Attempts, sets
	// LastError and NextAttemptAt = now + retryAfter.
	MarkFailed(ctx context.Context, eventID string, cause string, retryAfter time.Duration) error

	// Requeue resets a quarantined (poison) message back to Pending with
	// NextAttemptAt = now, for operator-driven recovery (spec §7,
	// SPEC_FULL §4).
	Requeue(ctx context.Context, eventID string) error

	// Close releases any resources held by the store.
	Close() error
}
