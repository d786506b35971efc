// Package sqlite is the default outbox.Store implementation, co-located in
// the same SQLite database file as the event log so the two inserts in
// pkg/writer share one transaction (spec §4.4).
//
// Grounded on the teacher's pkg/sqlite/checkpoint_store.go ("share the
// event store's *sql.DB" pattern) and the pack's outbox schemas
// (other_examples Kmassidik-mercuria outbox.go, zedaapi event_outbox.go).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kestrelhealth/waitqueue/pkg/clock"
	"github.com/kestrelhealth/waitqueue/pkg/eventlog"
	"github.com/kestrelhealth/waitqueue/pkg/idgen"
	"github.com/kestrelhealth/waitqueue/pkg/migrate"
	"github.com/kestrelhealth/waitqueue/pkg/outbox"
)

// Store is a SQLite-backed outbox.Store.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

type config struct {
	autoMigrate bool
	clock       clock.Clock
}

func defaultConfig() config {
	return config{autoMigrate: true, clock: clock.System{}}
}

// Option configures a Store.
type Option func(*config)

// WithAutoMigrate toggles running the schema migration on open (default on).
func WithAutoMigrate(enabled bool) Option {
	return func(c *config) { c.autoMigrate = enabled }
}

// WithClock overrides the clock used for NextAttemptAt and GetPending's
// "has it elapsed" comparison (spec §9: inject a deterministic clock).
func WithClock(c clock.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// New creates an outbox store backed by db, typically the same *sql.DB as
// the event log (call (eventlog/sqlite.Store).DB()).
func New(db *sql.DB, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	store := &Store{db: db, clock: cfg.clock}

	if cfg.autoMigrate {
		if err := migrateSchema(db); err != nil {
			return nil, fmt.Errorf("outbox/sqlite: migrate: %w", err)
		}
	}

	return store, nil
}

func migrateSchema(db *sql.DB) error {
	m := migrate.New(db, "outbox_schema_migrations")
	m.Add(1, "create_outbox_messages", `
		CREATE TABLE IF NOT EXISTS outbox_messages (
			outbox_id       TEXT PRIMARY KEY,
			event_id        TEXT NOT NULL UNIQUE,
			event_name      TEXT NOT NULL,
			aggregate_id    TEXT NOT NULL,
			occurred_at     INTEGER NOT NULL,
			correlation_id  TEXT NOT NULL DEFAULT '',
			causation_id    TEXT NOT NULL DEFAULT '',
			payload         BLOB NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			attempts        INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER,
			last_error      TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_outbox_status_next_attempt ON outbox_messages(status, next_attempt_at);
	`)
	return m.Up()
}

// AddWithinTransaction inserts messages using tx, ignoring any whose
// EventID already exists (spec §4.3).
func (s *Store) AddWithinTransaction(ctx context.Context, tx eventlog.Tx, messages []outbox.Message) error {
	sqlTx, ok := eventlog.Unwrap(tx)
	if !ok {
		return fmt.Errorf("outbox/sqlite: AddWithinTransaction requires a *sql.Tx-backed handle")
	}

	for _, msg := range messages {
		if msg.OutboxID == "" {
			msg.OutboxID = idgen.NewULID(s.clock.Now())
		}
		if msg.Status == "" {
			msg.Status = outbox.StatusPending
		}
		_, err := sqlTx.ExecContext(ctx, `
			INSERT OR IGNORE INTO outbox_messages
				(outbox_id, event_id, event_name, aggregate_id, occurred_at,
				 correlation_id, causation_id, payload, status, attempts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`,
			msg.OutboxID, msg.EventID, msg.EventName, msg.AggregateID, msg.OccurredAt.UnixNano(),
			msg.CorrelationID, msg.CausationID, msg.Payload, msg.Status,
		)
		if err != nil {
			return fmt.Errorf("outbox/sqlite: insert message for event %s: %w", msg.EventID, err)
		}
	}
	return nil
}

// GetPending returns up to batchSize rows eligible for (re)publish, ordered
// by OccurredAt ASC: Pending rows, plus Failed rows whose NextAttemptAt has
// elapsed (spec §4.3: "A Failed row is re-polled once NextAttemptAt elapses;
// Failed ≠ terminal"). A quarantined poison message stays ineligible because
// its NextAttemptAt sits a year out.
func (s *Store) GetPending(ctx context.Context, batchSize int) ([]outbox.Message, error) {
	now := s.clock.Now().UnixNano()
	rows, err := s.db.QueryContext(ctx, `
		SELECT outbox_id, event_id, event_name, aggregate_id, occurred_at,
		       correlation_id, causation_id, payload, status, attempts, next_attempt_at, last_error
		FROM outbox_messages
		WHERE status IN (?, ?) AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY occurred_at ASC
		LIMIT ?
	`, outbox.StatusPending, outbox.StatusFailed, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("outbox/sqlite: get pending: %w", err)
	}
	defer rows.Close()

	var messages []outbox.Message
	for rows.Next() {
		var msg outbox.Message
		var occurredAtNano int64
		var nextAttempt sql.NullInt64
		var status string
		if err := rows.Scan(
			&msg.OutboxID, &msg.EventID, &msg.EventName, &msg.AggregateID, &occurredAtNano,
			&msg.CorrelationID, &msg.CausationID, &msg.Payload, &status, &msg.Attempts, &nextAttempt, &msg.LastError,
		); err != nil {
			return nil, fmt.Errorf("outbox/sqlite: scan message: %w", err)
		}
		msg.Status = outbox.Status(status)
		msg.OccurredAt = time.Unix(0, occurredAtNano).UTC()
		if nextAttempt.Valid {
			t := time.Unix(0, nextAttempt.Int64).UTC()
			msg.NextAttemptAt = &t
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkDispatched transitions eventID's row to Dispatched.
func (s *Store) MarkDispatched(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = ?, attempts = attempts + 1, next_attempt_at = NULL, last_error = ''
		WHERE event_id = ?
	`, outbox.StatusDispatched, eventID)
	if err != nil {
		return fmt.Errorf("outbox/sqlite: mark dispatched %s: %w", eventID, err)
	}
	return nil
}

// MarkFailed transitions eventID's row to Failed with a future NextAttemptAt.
func (s *Store) MarkFailed(ctx context.Context, eventID string, cause string, retryAfter time.Duration) error {
	nextAttempt := s.clock.Now().Add(retryAfter).UnixNano()
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = ?, attempts = attempts + 1, next_attempt_at = ?, last_error = ?
		WHERE event_id = ?
	`, outbox.StatusFailed, nextAttempt, cause, eventID)
	if err != nil {
		return fmt.Errorf("outbox/sqlite: mark failed %s: %w", eventID, err)
	}
	return nil
}

// Requeue resets a quarantined message back to Pending, eligible immediately.
func (s *Store) Requeue(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = ?, next_attempt_at = ?, last_error = ''
		WHERE event_id = ?
	`, outbox.StatusPending, s.clock.Now().UnixNano(), eventID)
	if err != nil {
		return fmt.Errorf("outbox/sqlite: requeue %s: %w", eventID, err)
	}
	return nil
}

// Close is a no-op: the event log owns the shared *sql.DB's lifecycle.
func (s *Store) Close() error {
	return nil
}
