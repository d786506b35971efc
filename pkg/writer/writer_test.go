package writer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelhealth/waitqueue/pkg/eventlog"
	eventlogsqlite "github.com/kestrelhealth/waitqueue/pkg/eventlog/sqlite"
	outboxsqlite "github.com/kestrelhealth/waitqueue/pkg/outbox/sqlite"
	"github.com/kestrelhealth/waitqueue/pkg/writer"
)

func newWriter(t *testing.T) (*writer.Writer, *eventlogsqlite.Store) {
	t.Helper()
	log, err := eventlogsqlite.New(eventlogsqlite.WithDSN(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	ob, err := outboxsqlite.New(log.DB())
	require.NoError(t, err)

	return writer.New(log, ob), log
}

func ev(eventID, eventName string, idempotencyKey string) eventlog.Event {
	return eventlog.NewUncommitted(eventID, "agg-1", eventName, []byte(`{}`), eventlog.Metadata{
		IdempotencyKey: idempotencyKey,
		OccurredAt:     time.Now().UTC(),
	})
}

func TestWriterSaveHappyPath(t *testing.T) {
	ctx := context.Background()
	w, log := newWriter(t)

	inserted, err := w.Save(ctx, "agg-1", 0, []eventlog.Event{
		ev("evt-1", "CheckedIn", "idem-1"),
		ev("evt-2", "Called", "idem-2"),
	})
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	require.Equal(t, int64(1), inserted[0].Version)
	require.Equal(t, int64(2), inserted[1].Version)

	stored, err := log.ReadByAggregate(ctx, "agg-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestWriterSaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	w, _ := newWriter(t)

	_, err := w.Save(ctx, "agg-1", 0, []eventlog.Event{ev("evt-1", "CheckedIn", "idem-1")})
	require.NoError(t, err)

	// Retrying at the stale expectedVersion=0 must conflict: current is 1.
	_, err = w.Save(ctx, "agg-1", 0, []eventlog.Event{ev("evt-2", "Called", "idem-2")})
	require.Error(t, err)

	var conflict *eventlog.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(0), conflict.Expected)
	require.Equal(t, int64(1), conflict.Actual)
}

func TestWriterSaveIsIdempotentOnDuplicateEvents(t *testing.T) {
	ctx := context.Background()
	w, log := newWriter(t)

	events := []eventlog.Event{ev("evt-1", "CheckedIn", "idem-1")}

	_, err := w.Save(ctx, "agg-1", 0, events)
	require.NoError(t, err)

	// A retried command re-derives the same IdempotencyKey under a new
	// EventID (the command handler regenerates IDs on each attempt); the
	// unique index on idempotency_key makes the insert affect zero rows.
	inserted, err := w.Save(ctx, "agg-1", 1, []eventlog.Event{ev("evt-2", "Called", "idem-1")})
	require.NoError(t, err)
	require.Empty(t, inserted, "duplicate idempotency key must insert zero rows even under a new EventID")

	stored, err := log.ReadByAggregate(ctx, "agg-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestWriterSaveEmptyEventsIsNoOp(t *testing.T) {
	ctx := context.Background()
	w, log := newWriter(t)

	inserted, err := w.Save(ctx, "agg-1", 0, nil)
	require.NoError(t, err)
	require.Empty(t, inserted)

	stored, err := log.ReadByAggregate(ctx, "agg-1")
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestWriterSaveEnqueuesOutboxRowsAtomicallyWithEvents(t *testing.T) {
	ctx := context.Background()
	log, err := eventlogsqlite.New(eventlogsqlite.WithDSN(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	ob, err := outboxsqlite.New(log.DB())
	require.NoError(t, err)
	w := writer.New(log, ob)

	_, err = w.Save(ctx, "agg-1", 0, []eventlog.Event{
		ev("evt-1", "CheckedIn", "idem-1"),
		ev("evt-2", "Called", "idem-2"),
	})
	require.NoError(t, err)

	pending, err := ob.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}
