package eventlog

import "context"

// Store is the event log port (C2). Implementations must enforce the two
// unique indexes from spec §3/§6: (AggregateID, Version) and IdempotencyKey.
//
// Store is written to only by pkg/writer (inserts); read by command loaders
// and the projection engine (pkg/projection) for replay.
type Store interface {
	// Append inserts events within the caller-supplied transaction-like
	// handle Tx. Events whose IdempotencyKey already exists are silently
	// skipped (spec §4.4 step 5); Append returns the subset that was
	// actually inserted, in order, so the caller knows which ones are "new"
	// and therefore need an outbox row.
	Append(ctx context.Context, tx Tx, events []Event) (inserted []Event, err error)

	// MaxVersion returns the highest Version recorded for id, or 0 if the
	// aggregate has no events (spec §4.2).
	MaxVersion(ctx context.Context, tx Tx, id string) (int64, error)

	// ReadByAggregate returns every event for id ordered by Version ASC.
	ReadByAggregate(ctx context.Context, id string) ([]Event, error)

	// ReadAll returns every event in the log in a stable, implementation-
	// documented order. This implementation orders by
	// (OccurredAt, AggregateID, Version) (spec §4.2, §9 Open Question):
	// events are yielded in per-aggregate Version order; the interleaving
	// across aggregates is stable across calls but otherwise unspecified.
	ReadAll(ctx context.Context, fromOffset, limit int) ([]Event, error)

	// BeginTx opens a new transaction-like handle for use with Append and,
	// via the same handle, the outbox store's AddWithinTransaction, so the
	// two inserts commit atomically (spec §4.4).
	BeginTx(ctx context.Context) (Tx, error)

	// Close releases any resources held by the store.
	Close() error
}

// Tx is an opaque transaction handle. Concrete stores type-assert it back
// to their own transaction type (e.g. *sql.Tx); callers never inspect it.
type Tx interface {
	Commit() error
	Rollback() error
}
