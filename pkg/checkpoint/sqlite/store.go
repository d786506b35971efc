// Package sqlite persists ProjectionCheckpoints durably, so an operator or
// a health check can see where a projection's replay last landed across a
// process restart without waiting on a full Rebuild.
//
// Grounded on the teacher's pkg/sqlite/checkpoint_store.go (DB-sharing
// constructor, Save/Load/Delete shape), rewritten against database/sql
// directly instead of the teacher's sqlcgen-generated queries (not part of
// the retrieved source) and using pkg/migrate instead of the teacher's
// checkpoint_migrations.go for schema bootstrap, for consistency with
// pkg/eventlog/sqlite and pkg/outbox/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kestrelhealth/waitqueue/pkg/migrate"
	"github.com/kestrelhealth/waitqueue/pkg/projection/projctx"
)

// Store is a durable record of the last checkpoint written per projection.
// It is a side journal, not the engine's source of truth: the in-memory
// projctx.Context still drives replay decisions; this store exists so that
// durability of "where did we last get to" survives a restart independently
// of view state.
type Store struct {
	db *sql.DB
}

type config struct {
	autoMigrate bool
}

func defaultConfig() config { return config{autoMigrate: true} }

// Option configures a Store.
type Option func(*config)

// WithAutoMigrate toggles running the schema migration on open (default on).
func WithAutoMigrate(enabled bool) Option {
	return func(c *config) { c.autoMigrate = enabled }
}

// New opens a durable checkpoint store backed by db, typically the same
// *sql.DB as the event log or outbox (call (eventlog/sqlite.Store).DB()).
func New(db *sql.DB, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.autoMigrate {
		if err := migrateSchema(db); err != nil {
			return nil, fmt.Errorf("checkpoint/sqlite: migrate: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func migrateSchema(db *sql.DB) error {
	m := migrate.New(db, "checkpoint_schema_migrations")
	m.Add(1, "create_projection_checkpoints", `
		CREATE TABLE IF NOT EXISTS projection_checkpoints (
			projection_id      TEXT PRIMARY KEY,
			last_event_version INTEGER NOT NULL,
			checkpointed_at    INTEGER NOT NULL,
			idempotency_key    TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL DEFAULT ''
		);
	`)
	return m.Up()
}

// Save upserts cp, last-writer-wins (spec §3: "writing a checkpoint is
// last-writer-wins").
func (s *Store) Save(ctx context.Context, cp projctx.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projection_checkpoints
			(projection_id, last_event_version, checkpointed_at, idempotency_key, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (projection_id) DO UPDATE SET
			last_event_version = excluded.last_event_version,
			checkpointed_at    = excluded.checkpointed_at,
			idempotency_key    = excluded.idempotency_key,
			status             = excluded.status
	`, cp.ProjectionID, cp.LastEventVersion, cp.CheckpointedAt.UnixNano(), cp.IdempotencyKey, cp.Status)
	if err != nil {
		return fmt.Errorf("checkpoint/sqlite: save %s: %w", cp.ProjectionID, err)
	}
	return nil
}

// Load returns the durable checkpoint for projectionID, or ok=false if none
// has ever been saved.
func (s *Store) Load(ctx context.Context, projectionID string) (cp projctx.Checkpoint, ok bool, err error) {
	var checkpointedAtNano int64
	err = s.db.QueryRowContext(ctx, `
		SELECT projection_id, last_event_version, checkpointed_at, idempotency_key, status
		FROM projection_checkpoints WHERE projection_id = ?
	`, projectionID).Scan(&cp.ProjectionID, &cp.LastEventVersion, &checkpointedAtNano, &cp.IdempotencyKey, &cp.Status)
	if err == sql.ErrNoRows {
		return projctx.Checkpoint{}, false, nil
	}
	if err != nil {
		return projctx.Checkpoint{}, false, fmt.Errorf("checkpoint/sqlite: load %s: %w", projectionID, err)
	}
	cp.CheckpointedAt = time.Unix(0, checkpointedAtNano).UTC()
	return cp, true, nil
}

// Delete removes projectionID's durable checkpoint, e.g. before a Rebuild.
func (s *Store) Delete(ctx context.Context, projectionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projection_checkpoints WHERE projection_id = ?`, projectionID)
	if err != nil {
		return fmt.Errorf("checkpoint/sqlite: delete %s: %w", projectionID, err)
	}
	return nil
}
