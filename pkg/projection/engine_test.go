package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	checkpointsqlite "github.com/kestrelhealth/waitqueue/pkg/checkpoint/sqlite"
	"github.com/kestrelhealth/waitqueue/pkg/clock"
	"github.com/kestrelhealth/waitqueue/pkg/eventcodec"
	"github.com/kestrelhealth/waitqueue/pkg/eventlog"
	eventlogsqlite "github.com/kestrelhealth/waitqueue/pkg/eventlog/sqlite"
	"github.com/kestrelhealth/waitqueue/pkg/projection"
	"github.com/kestrelhealth/waitqueue/pkg/projection/projctx"
	"github.com/kestrelhealth/waitqueue/pkg/projection/queueviews"
)

const projectionID = "queueviews"

func newEngine(t *testing.T) (*projection.Engine, *eventlogsqlite.Store, *projctx.Context, *eventcodec.Registry) {
	t.Helper()
	log, err := eventlogsqlite.New(eventlogsqlite.WithDSN(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	codec := eventcodec.NewRegistry()
	queueviews.RegisterEvents(codec)

	pctx := projctx.New()
	engine := projection.New(projectionID, log, pctx, queueviews.Handlers(projectionID, codec))
	return engine, log, pctx, codec
}

func appendCheckedIn(t *testing.T, ctx context.Context, log *eventlogsqlite.Store, codec *eventcodec.Registry, eventID, aggID, patientID string, version int64, at time.Time) eventlog.Event {
	t.Helper()
	payload, err := codec.Encode(queueviews.EventPatientCheckedIn, queueviews.PatientCheckedIn{PatientID: patientID, Priority: "normal"})
	require.NoError(t, err)

	ev := eventlog.NewUncommitted(eventID, aggID, queueviews.EventPatientCheckedIn, payload, eventlog.Metadata{
		IdempotencyKey: eventID,
		OccurredAt:     at,
	}).WithVersion(version)

	tx, err := log.BeginTx(ctx)
	require.NoError(t, err)
	inserted, err := log.Append(ctx, tx, []eventlog.Event{ev})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.Len(t, inserted, 1)
	return inserted[0]
}

func TestEngineProcessEventCheckpointsLastVersion(t *testing.T) {
	ctx := context.Background()
	engine, log, pctx, codec := newEngine(t)

	event := appendCheckedIn(t, ctx, log, codec, "evt-1", "queue-1", "p-1", 1, time.Now())

	require.NoError(t, engine.ProcessEvent(ctx, event))

	cp, ok := pctx.GetCheckpoint(projectionID)
	require.True(t, ok)
	require.Equal(t, int64(1), cp.LastEventVersion)

	view := pctx.View(projectionID, "queue-1")
	require.Len(t, view.Patients, 1)
}

func TestEngineProcessEventsChecksPointsMaxVersion(t *testing.T) {
	ctx := context.Background()
	engine, log, pctx, codec := newEngine(t)

	e1 := appendCheckedIn(t, ctx, log, codec, "evt-1", "queue-1", "p-1", 1, time.Now())
	e2 := appendCheckedIn(t, ctx, log, codec, "evt-2", "queue-1", "p-2", 2, time.Now().Add(time.Second))

	require.NoError(t, engine.ProcessEvents(ctx, []eventlog.Event{e1, e2}))

	cp, ok := pctx.GetCheckpoint(projectionID)
	require.True(t, ok)
	require.Equal(t, int64(2), cp.LastEventVersion)
}

func TestEngineSkipsUnregisteredEventNameWithoutError(t *testing.T) {
	ctx := context.Background()
	engine, _, _, _ := newEngine(t)

	unknown := eventlog.NewUncommitted("evt-1", "queue-1", "SomethingElse", []byte("{}"), eventlog.Metadata{
		OccurredAt: time.Now(),
	}).WithVersion(1)

	err := engine.ProcessEvent(ctx, unknown)
	require.NoError(t, err, "an event with no registered handler must be skipped, not error")
}

func TestEngineRebuildReplaysEntireLogAndMarksComplete(t *testing.T) {
	ctx := context.Background()
	engine, log, pctx, codec := newEngine(t)

	base := time.Now()
	appendCheckedIn(t, ctx, log, codec, "evt-1", "queue-1", "p-1", 1, base)
	appendCheckedIn(t, ctx, log, codec, "evt-2", "queue-2", "p-2", 1, base.Add(time.Second))

	require.NoError(t, engine.Rebuild(ctx))

	cp, ok := pctx.GetCheckpoint(projectionID)
	require.True(t, ok)
	require.Equal(t, "rebuild-complete", cp.Status)

	require.Len(t, pctx.View(projectionID, "queue-1").Patients, 1)
	require.Len(t, pctx.View(projectionID, "queue-2").Patients, 1)
}

func TestEngineRebuildClearsPriorStateBeforeReplay(t *testing.T) {
	ctx := context.Background()
	engine, log, pctx, codec := newEngine(t)

	// Seed stray prior-run state under a key no longer backed by any event.
	pctx.Mutate(projectionID, "stale-queue", func(v *projctx.QueueView) {
		v.IncrementCounters("high")
	})

	appendCheckedIn(t, ctx, log, codec, "evt-1", "queue-1", "p-1", 1, time.Now())

	require.NoError(t, engine.Rebuild(ctx))

	require.Equal(t, 0, pctx.View(projectionID, "stale-queue").Counters.Total, "Rebuild must Clear() before replay")
}

func TestEngineRebuildOnEmptyLogCheckpointsZero(t *testing.T) {
	ctx := context.Background()
	engine, _, pctx, _ := newEngine(t)

	require.NoError(t, engine.Rebuild(ctx))

	cp, ok := pctx.GetCheckpoint(projectionID)
	require.True(t, ok)
	require.Equal(t, int64(0), cp.LastEventVersion)
	require.Equal(t, "rebuild-complete", cp.Status)
}

func TestEngineMirrorsCheckpointsToDurableStoreWhenConfigured(t *testing.T) {
	ctx := context.Background()
	log, err := eventlogsqlite.New(eventlogsqlite.WithDSN(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	durable, err := checkpointsqlite.New(log.DB())
	require.NoError(t, err)

	codec := eventcodec.NewRegistry()
	queueviews.RegisterEvents(codec)
	pctx := projctx.New()
	engine := projection.New(projectionID, log, pctx, queueviews.Handlers(projectionID, codec),
		projection.WithDurableCheckpoints(durable, clock.System{}),
	)

	event := appendCheckedIn(t, ctx, log, codec, "evt-1", "queue-1", "p-1", 1, time.Now())
	require.NoError(t, engine.ProcessEvent(ctx, event))

	cp, ok, err := durable.Load(ctx, projectionID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), cp.LastEventVersion)
	require.False(t, cp.CheckpointedAt.IsZero())
}
