// Package sqlite is the default eventlog.Store implementation: a
// CGo-free SQLite event log, grounded on the teacher's
// pkg/sqlite/eventstore.go (functional options, WAL mode, auto-migrate)
// and pkg/store/sqlite/eventstore_queries.go (hand-written query shapes —
// the teacher's sqlcgen-generated package was not part of the retrieved
// source, so queries here are written directly against database/sql).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kestrelhealth/waitqueue/pkg/eventlog"
	"github.com/kestrelhealth/waitqueue/pkg/migrate"

	_ "modernc.org/sqlite" // pure Go driver
)

// Store is a SQLite-backed eventlog.Store.
type Store struct {
	db *sql.DB
}

type config struct {
	dsn          string
	maxOpenConns int
	walMode      bool
	autoMigrate  bool
}

func defaultConfig() config {
	return config{
		dsn:          "eventlog.db",
		maxOpenConns: 25,
		walMode:      true,
		autoMigrate:  true,
	}
}

// Option configures a Store.
type Option func(*config)

// WithDSN sets the database file path, or ":memory:" for an in-process store.
func WithDSN(dsn string) Option {
	return func(c *config) { c.dsn = dsn }
}

// WithMaxOpenConns bounds the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(c *config) { c.maxOpenConns = n }
}

// WithWALMode toggles write-ahead logging (default on; ignored for :memory:).
func WithWALMode(enabled bool) Option {
	return func(c *config) { c.walMode = enabled }
}

// WithAutoMigrate toggles running the schema migration on open (default on).
func WithAutoMigrate(enabled bool) Option {
	return func(c *config) { c.autoMigrate = enabled }
}

// New opens (and, by default, migrates) a SQLite event log.
func New(opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", cfg.dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog/sqlite: open: %w", err)
	}

	if cfg.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db}

	if cfg.walMode && cfg.dsn != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL; PRAGMA foreign_keys = ON;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("eventlog/sqlite: wal mode: %w", err)
		}
	}

	if cfg.autoMigrate {
		if err := migrateSchema(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("eventlog/sqlite: migrate: %w", err)
		}
	}

	return store, nil
}

// DB returns the underlying connection pool, e.g. for a co-located
// checkpoint store or outbox store that must share the database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func migrateSchema(db *sql.DB) error {
	m := migrate.New(db, "eventlog_schema_migrations")
	m.Add(1, "create_events", `
		CREATE TABLE IF NOT EXISTS events (
			event_id        TEXT PRIMARY KEY,
			aggregate_id    TEXT NOT NULL,
			version         INTEGER NOT NULL,
			event_name      TEXT NOT NULL,
			occurred_at     INTEGER NOT NULL,
			correlation_id  TEXT NOT NULL DEFAULT '',
			causation_id    TEXT NOT NULL DEFAULT '',
			actor           TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL,
			schema_version  INTEGER NOT NULL DEFAULT 1,
			payload         BLOB NOT NULL,
			UNIQUE (aggregate_id, version),
			UNIQUE (idempotency_key)
		);
		CREATE INDEX IF NOT EXISTS idx_events_aggregate_version ON events(aggregate_id, version ASC);
		CREATE INDEX IF NOT EXISTS idx_events_replay_order ON events(occurred_at, aggregate_id, version);
	`)
	return m.Up()
}

// BeginTx opens a new transaction.
func (s *Store) BeginTx(ctx context.Context) (eventlog.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("eventlog/sqlite: begin tx: %w", err)
	}
	return &eventlog.SQLTx{Tx: tx}, nil
}

// Append inserts events within tx, skipping any whose IdempotencyKey
// already exists (spec §4.4 step 5): re-saving an identical event set is a
// no-op because the unique index makes the insert affect zero rows.
func (s *Store) Append(ctx context.Context, tx eventlog.Tx, events []eventlog.Event) ([]eventlog.Event, error) {
	sqlTx, ok := eventlog.Unwrap(tx)
	if !ok {
		return nil, fmt.Errorf("eventlog/sqlite: Append requires a *Store transaction")
	}

	var inserted []eventlog.Event
	for _, ev := range events {
		res, err := sqlTx.ExecContext(ctx, `
			INSERT OR IGNORE INTO events
				(event_id, aggregate_id, version, event_name, occurred_at,
				 correlation_id, causation_id, actor, idempotency_key, schema_version, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ev.EventID, ev.AggregateID, ev.Version, ev.EventName, ev.OccurredAt.UnixNano(),
			ev.CorrelationID, ev.CausationID, ev.Actor, ev.IdempotencyKey, ev.SchemaVersion, ev.Payload,
		)
		if err != nil {
			return nil, fmt.Errorf("eventlog/sqlite: insert event %s: %w", ev.EventID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("eventlog/sqlite: rows affected for %s: %w", ev.EventID, err)
		}
		if n > 0 {
			inserted = append(inserted, ev)
		}
	}
	return inserted, nil
}

// MaxVersion returns the current version of id, or 0 if it has no events.
func (s *Store) MaxVersion(ctx context.Context, tx eventlog.Tx, id string) (int64, error) {
	var version int64
	var err error
	if tx != nil {
		sqlTx, ok := eventlog.Unwrap(tx)
		if !ok {
			return 0, fmt.Errorf("eventlog/sqlite: MaxVersion requires a *Store transaction")
		}
		err = sqlTx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, id).Scan(&version)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, id).Scan(&version)
	}
	if err != nil {
		return 0, fmt.Errorf("eventlog/sqlite: max version for %s: %w", id, err)
	}
	return version, nil
}

// ReadByAggregate returns every event for id ordered by Version ASC.
func (s *Store) ReadByAggregate(ctx context.Context, id string) ([]eventlog.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, version, event_name, occurred_at,
		       correlation_id, causation_id, actor, idempotency_key, schema_version, payload
		FROM events WHERE aggregate_id = ? ORDER BY version ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("eventlog/sqlite: read aggregate %s: %w", id, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadAll returns events ordered by (occurred_at, aggregate_id, version):
// per-aggregate Version order is guaranteed; cross-aggregate interleaving is
// stable across calls but otherwise unspecified (spec §4.2, §9).
func (s *Store) ReadAll(ctx context.Context, fromOffset, limit int) ([]eventlog.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, version, event_name, occurred_at,
		       correlation_id, causation_id, actor, idempotency_key, schema_version, payload
		FROM events ORDER BY occurred_at ASC, aggregate_id ASC, version ASC
		LIMIT ? OFFSET ?
	`, limit, fromOffset)
	if err != nil {
		return nil, fmt.Errorf("eventlog/sqlite: read all: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]eventlog.Event, error) {
	var events []eventlog.Event
	for rows.Next() {
		var ev eventlog.Event
		var occurredAtNano int64
		if err := rows.Scan(
			&ev.EventID, &ev.AggregateID, &ev.Version, &ev.EventName, &occurredAtNano,
			&ev.CorrelationID, &ev.CausationID, &ev.Actor, &ev.IdempotencyKey, &ev.SchemaVersion, &ev.Payload,
		); err != nil {
			return nil, fmt.Errorf("eventlog/sqlite: scan event: %w", err)
		}
		ev.OccurredAt = time.Unix(0, occurredAtNano).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
