// Package writer implements the transactional writer (C4): the only path
// by which events reach the log and the outbox, atomically.
//
// Grounded on the teacher's pkg/sqlite/eventstore.go AppendEvents (optimistic
// concurrency against MaxVersion, functional-options construction) combined
// with the dual-write fix drawn from the pack's outbox examples: the event
// insert and the outbox insert now happen inside one BeginTx/Commit instead
// of the teacher's separate AppendEvents-then-EventBus.Publish calls.
package writer

import (
	"context"
	"fmt"

	"github.com/asaskevich/govalidator"

	"github.com/kestrelhealth/waitqueue/pkg/eventlog"
	"github.com/kestrelhealth/waitqueue/pkg/observability"
	"github.com/kestrelhealth/waitqueue/pkg/outbox"
	"github.com/kestrelhealth/waitqueue/pkg/runner"
)

// Writer is the transactional writer (C4).
type Writer struct {
	events runner.Logger
	log    eventlog.Store
	outbox outbox.Store
	mw     *observability.WriterMiddleware
}

type config struct {
	logger runner.Logger
	tel    *observability.Telemetry
}

func defaultConfig() config {
	return config{logger: runner.NewNoopLogger()}
}

// Option configures a Writer.
type Option func(*config)

// WithLogger sets the logger used for commit/conflict diagnostics.
func WithLogger(l runner.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithTelemetry wraps every Save call in a span and records writer metrics
// (SPEC_FULL §3: go.opentelemetry.io/otel wiring).
func WithTelemetry(tel *observability.Telemetry) Option {
	return func(c *config) { c.tel = tel }
}

// New builds a Writer over an event log and an outbox store. The two stores
// must share the same underlying transactional resource (e.g. the same
// *sql.DB) for Save to commit atomically. OccurredAt on each event is set by
// the caller (command handler) before Save, not by the writer: it is
// business time, not persistence time.
func New(log eventlog.Store, ob outbox.Store, opts ...Option) *Writer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	w := &Writer{events: cfg.logger, log: log, outbox: ob}
	if cfg.tel != nil {
		w.mw = observability.NewWriterMiddleware(cfg.tel)
	}
	return w
}

// Save implements the algorithm of spec §4.4: open a transaction, check
// optimistic concurrency, stamp versions, insert events (duplicates are a
// no-op), insert an outbox row for every event actually inserted, commit.
//
// An empty uncommittedEvents is a no-op that still opens and commits an
// (empty) transaction (spec §8 boundary behavior).
func (w *Writer) Save(ctx context.Context, aggregateID string, expectedVersion int64, uncommittedEvents []eventlog.Event) ([]eventlog.Event, error) {
	if w.mw == nil {
		return w.save(ctx, aggregateID, expectedVersion, uncommittedEvents)
	}

	var inserted []eventlog.Event
	_, err := w.mw.WrapSave(ctx, aggregateID, expectedVersion, func(ctx context.Context) (int, error) {
		var err error
		inserted, err = w.save(ctx, aggregateID, expectedVersion, uncommittedEvents)
		return len(inserted), err
	})
	return inserted, err
}

func (w *Writer) save(ctx context.Context, aggregateID string, expectedVersion int64, uncommittedEvents []eventlog.Event) ([]eventlog.Event, error) {
	if err := validateAggregateID(aggregateID); err != nil {
		return nil, err
	}

	tx, err := w.log.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("writer: begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := w.log.MaxVersion(ctx, tx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("writer: read max version: %w", err)
	}
	if current != expectedVersion {
		return nil, &eventlog.VersionConflictError{
			AggregateID: aggregateID,
			Expected:    expectedVersion,
			Actual:      current,
		}
	}

	stamped := make([]eventlog.Event, len(uncommittedEvents))
	for i, ev := range uncommittedEvents {
		if err := validateEventID(ev.EventID); err != nil {
			return nil, err
		}
		stamped[i] = ev.WithVersion(expectedVersion + int64(i+1))
	}

	inserted, err := w.log.Append(ctx, tx, stamped)
	if err != nil {
		return nil, fmt.Errorf("writer: append events: %w", err)
	}

	if len(inserted) > 0 {
		messages := make([]outbox.Message, len(inserted))
		for i, ev := range inserted {
			messages[i] = outbox.Message{
				EventID:       ev.EventID,
				EventName:     ev.EventName,
				AggregateID:   ev.AggregateID,
				OccurredAt:    ev.OccurredAt,
				CorrelationID: ev.CorrelationID,
				CausationID:   ev.CausationID,
				Payload:       ev.Payload,
				Status:        outbox.StatusPending,
			}
		}
		if err := w.outbox.AddWithinTransaction(ctx, tx, messages); err != nil {
			return nil, fmt.Errorf("writer: enqueue outbox rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("writer: commit: %w", err)
	}

	w.events.Info("aggregate saved",
		"aggregateId", aggregateID,
		"fromVersion", expectedVersion,
		"newEvents", len(inserted),
	)

	return inserted, nil
}

func validateAggregateID(id string) error {
	if !govalidator.StringLength(id, "1", "256") {
		return fmt.Errorf("writer: aggregateId must be a non-empty token of at most 256 characters")
	}
	return nil
}

func validateEventID(id string) error {
	if !govalidator.StringLength(id, "1", "256") {
		return fmt.Errorf("writer: eventId must be a non-empty token of at most 256 characters")
	}
	return nil
}
