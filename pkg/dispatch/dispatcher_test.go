package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelhealth/waitqueue/pkg/clock"
	"github.com/kestrelhealth/waitqueue/pkg/dispatch"
	"github.com/kestrelhealth/waitqueue/pkg/dispatch/broker"
	"github.com/kestrelhealth/waitqueue/pkg/eventcodec"
	eventlogsqlite "github.com/kestrelhealth/waitqueue/pkg/eventlog/sqlite"
	"github.com/kestrelhealth/waitqueue/pkg/outbox"
	outboxsqlite "github.com/kestrelhealth/waitqueue/pkg/outbox/sqlite"
)

type widgetCreated struct {
	WidgetID string `json:"widgetId"`
}

func seedPending(t *testing.T, ctx context.Context, log *eventlogsqlite.Store, ob *outboxsqlite.Store, eventID string, occurredAt time.Time, payload []byte) {
	t.Helper()
	tx, err := log.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, ob.AddWithinTransaction(ctx, tx, []outbox.Message{{
		EventID: eventID, EventName: "WidgetCreated", AggregateID: "agg-1", OccurredAt: occurredAt, Payload: payload,
	}}))
	require.NoError(t, tx.Commit())
}

func TestDispatcherProcessesPendingMessageAndMarksDispatched(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	log, err := eventlogsqlite.New(eventlogsqlite.WithDSN(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	ob, err := outboxsqlite.New(log.DB(), outboxsqlite.WithClock(clock.NewFixed(now)))
	require.NoError(t, err)

	codec := eventcodec.NewRegistry()
	codec.Register("WidgetCreated", func() eventcodec.Payload { return &widgetCreated{} })
	payload, err := codec.Encode("WidgetCreated", widgetCreated{WidgetID: "w-1"})
	require.NoError(t, err)

	seedPending(t, ctx, log, ob, "evt-1", now, payload)

	mb := broker.NewMemory()
	d := dispatch.New(ob, codec, mb)

	require.NoError(t, d.Start(ctx))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		return len(mb.Published()) == 1
	}, time.Second, 5*time.Millisecond)

	published := mb.Published()[0]
	require.Equal(t, "evt-1", published.MessageID)
	require.Equal(t, "WidgetCreated", published.EventName)

	require.Eventually(t, func() bool {
		pending, err := ob.GetPending(ctx, 10)
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherRetriesWithBackoffOnPublishFailure(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cl := clock.NewFixed(start)

	log, err := eventlogsqlite.New(eventlogsqlite.WithDSN(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	ob, err := outboxsqlite.New(log.DB(), outboxsqlite.WithClock(cl))
	require.NoError(t, err)

	codec := eventcodec.NewRegistry()
	codec.Register("WidgetCreated", func() eventcodec.Payload { return &widgetCreated{} })
	payload, err := codec.Encode("WidgetCreated", widgetCreated{WidgetID: "w-1"})
	require.NoError(t, err)

	seedPending(t, ctx, log, ob, "evt-1", start, payload)

	mb := broker.NewMemory()
	mb.FailNext(1, errors.New("broker unreachable"))

	d := dispatch.New(ob, codec, mb,
		dispatch.WithClock(cl),
		dispatch.WithConfig(dispatch.Config{
			PollingInterval:  time.Hour, // run exactly one iteration manually via Start/Stop timing
			BatchSize:        10,
			MaxRetryAttempts: 5,
			BaseRetryDelay:   30 * time.Second,
			MaxRetryDelay:    time.Hour,
		}),
	)

	require.NoError(t, d.Start(ctx))

	require.Eventually(t, func() bool {
		pending, err := ob.GetPending(ctx, 10)
		return err != nil || len(pending) == 0 // first iteration consumes the row into Failed+future NextAttemptAt
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop(context.Background()))
	require.Empty(t, mb.Published(), "the failed publish must not have recorded a message")

	// Backoff hasn't elapsed yet: not re-eligible.
	pending, err := ob.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	// Advance past the 30s backoff: the Failed row becomes eligible again.
	cl.Advance(31 * time.Second)
	pending, err = ob.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, outbox.StatusFailed, pending[0].Status)
	require.Equal(t, 1, pending[0].Attempts)
}

func TestDispatcherQuarantinesPoisonMessageAfterMaxRetryAttempts(t *testing.T) {
	ctx := context.Background()
	start := time.Now().UTC()
	cl := clock.NewFixed(start)

	log, err := eventlogsqlite.New(eventlogsqlite.WithDSN(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	ob, err := outboxsqlite.New(log.DB(), outboxsqlite.WithClock(cl))
	require.NoError(t, err)

	codec := eventcodec.NewRegistry()
	codec.Register("WidgetCreated", func() eventcodec.Payload { return &widgetCreated{} })
	payload, err := codec.Encode("WidgetCreated", widgetCreated{WidgetID: "w-1"})
	require.NoError(t, err)

	seedPending(t, ctx, log, ob, "evt-1", start, payload)

	mb := broker.NewMemory()
	mb.FailNext(1, errors.New("permanently broken"))

	cfg := dispatch.DefaultConfig()
	cfg.MaxRetryAttempts = 1 // first failure is already the last allowed attempt

	d := dispatch.New(ob, codec, mb, dispatch.WithClock(cl), dispatch.WithConfig(cfg))

	require.NoError(t, d.Start(ctx))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		rows, err := ob.GetPending(ctx, 10)
		return err == nil && len(rows) == 0
	}, time.Second, 5*time.Millisecond)

	// Even 300 days later, the poisoned row stays ineligible.
	cl.Advance(300 * 24 * time.Hour)
	pending, err := ob.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending, "a poisoned message must stay quarantined well short of its year-long delay")
}

func TestDispatcherRequeueResetsPoisonedMessage(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	log, err := eventlogsqlite.New(eventlogsqlite.WithDSN(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	ob, err := outboxsqlite.New(log.DB(), outboxsqlite.WithClock(clock.NewFixed(now)))
	require.NoError(t, err)

	seedPending(t, ctx, log, ob, "evt-1", now, []byte(`{}`))
	require.NoError(t, ob.MarkFailed(ctx, "evt-1", "permanent", 365*24*time.Hour))

	codec := eventcodec.NewRegistry()
	mb := broker.NewMemory()
	d := dispatch.New(ob, codec, mb)

	require.NoError(t, d.Requeue(ctx, "evt-1"))

	pending, err := ob.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, outbox.StatusPending, pending[0].Status)
}
