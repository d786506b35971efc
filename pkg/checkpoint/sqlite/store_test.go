package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	checkpointsqlite "github.com/kestrelhealth/waitqueue/pkg/checkpoint/sqlite"
	eventlogsqlite "github.com/kestrelhealth/waitqueue/pkg/eventlog/sqlite"
	"github.com/kestrelhealth/waitqueue/pkg/projection/projctx"
)

func newStore(t *testing.T) *checkpointsqlite.Store {
	t.Helper()
	log, err := eventlogsqlite.New(eventlogsqlite.WithDSN(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	s, err := checkpointsqlite.New(log.DB())
	require.NoError(t, err)
	return s
}

func TestStoreLoadMissingReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, ok, err := s.Load(ctx, "queueviews")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreSaveThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, projctx.Checkpoint{
		ProjectionID:     "queueviews",
		LastEventVersion: 7,
		CheckpointedAt:   now,
		Status:           "rebuild-complete",
	}))

	cp, ok, err := s.Load(ctx, "queueviews")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), cp.LastEventVersion)
	require.Equal(t, "rebuild-complete", cp.Status)
	require.True(t, now.Equal(cp.CheckpointedAt))
}

func TestStoreSaveIsLastWriterWins(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Save(ctx, projctx.Checkpoint{ProjectionID: "queueviews", LastEventVersion: 3}))
	require.NoError(t, s.Save(ctx, projctx.Checkpoint{ProjectionID: "queueviews", LastEventVersion: 9}))

	cp, ok, err := s.Load(ctx, "queueviews")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), cp.LastEventVersion)
}

func TestStoreDeleteRemovesCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Save(ctx, projctx.Checkpoint{ProjectionID: "queueviews", LastEventVersion: 3}))
	require.NoError(t, s.Delete(ctx, "queueviews"))

	_, ok, err := s.Load(ctx, "queueviews")
	require.NoError(t, err)
	require.False(t, ok)
}
