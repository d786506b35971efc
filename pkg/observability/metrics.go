package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the waitqueue pipeline: the
// writer's Save calls, the dispatcher's publish/retry/poison outcomes, and
// the projection engine's handle/lag.
type Metrics struct {
	// Writer (C4)
	WriterSaves      metric.Int64Counter
	WriterConflicts  metric.Int64Counter
	WriterLatency    metric.Float64Histogram
	EventsAppended   metric.Int64Counter

	// Dispatcher (C5)
	DispatchPublished metric.Int64Counter
	DispatchFailed    metric.Int64Counter
	DispatchPoisoned  metric.Int64Counter
	DispatchLatency   metric.Float64Histogram

	// Projection (C6/C7)
	ProjectionHandled metric.Int64Counter
	ProjectionErrors  metric.Int64Counter
	ProjectionLag     metric.Float64Gauge
}

// NewMetrics creates all metric instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.WriterSaves, err = meter.Int64Counter(
		"waitqueue.writer.saves",
		metric.WithDescription("Total Save calls to the transactional writer"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating writer.saves: %w", err)
	}

	m.WriterConflicts, err = meter.Int64Counter(
		"waitqueue.writer.conflicts",
		metric.WithDescription("Save calls that aborted with VersionConflict"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating writer.conflicts: %w", err)
	}

	m.WriterLatency, err = meter.Float64Histogram(
		"waitqueue.writer.latency",
		metric.WithDescription("Save call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating writer.latency: %w", err)
	}

	m.EventsAppended, err = meter.Int64Counter(
		"waitqueue.events.appended",
		metric.WithDescription("Total events newly inserted into the event log"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.appended: %w", err)
	}

	m.DispatchPublished, err = meter.Int64Counter(
		"waitqueue.dispatch.published",
		metric.WithDescription("Outbox messages successfully published"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch.published: %w", err)
	}

	m.DispatchFailed, err = meter.Int64Counter(
		"waitqueue.dispatch.failed",
		metric.WithDescription("Outbox messages that failed and were scheduled for retry"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch.failed: %w", err)
	}

	m.DispatchPoisoned, err = meter.Int64Counter(
		"waitqueue.dispatch.poisoned",
		metric.WithDescription("Outbox messages quarantined after MaxRetryAttempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch.poisoned: %w", err)
	}

	m.DispatchLatency, err = meter.Float64Histogram(
		"waitqueue.dispatch.latency",
		metric.WithDescription("Per-message publish duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch.latency: %w", err)
	}

	m.ProjectionHandled, err = meter.Int64Counter(
		"waitqueue.projection.handled",
		metric.WithDescription("Events routed to a registered handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.handled: %w", err)
	}

	m.ProjectionErrors, err = meter.Int64Counter(
		"waitqueue.projection.errors",
		metric.WithDescription("Handler errors raised while processing events"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.errors: %w", err)
	}

	m.ProjectionLag, err = meter.Float64Gauge(
		"waitqueue.projection.lag",
		metric.WithDescription("Seconds between an event's OccurredAt and when the projection handled it"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.lag: %w", err)
	}

	return m, nil
}

// RecordSave records one successful Writer.Save: latency, a save count, and
// the number of events actually appended (spec §4.4 step 5: duplicates
// don't count).
func (m *Metrics) RecordSave(ctx context.Context, duration time.Duration, newEvents int) {
	m.WriterLatency.Record(ctx, duration.Seconds())
	m.WriterSaves.Add(ctx, 1)
	m.EventsAppended.Add(ctx, int64(newEvents))
}

// RecordConflict records a Save call that aborted with VersionConflict.
func (m *Metrics) RecordConflict(ctx context.Context, aggregateID string) {
	m.WriterConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("aggregate_id", aggregateID)))
}

// RecordPublish records one dispatcher publish attempt's outcome.
func (m *Metrics) RecordPublish(ctx context.Context, eventName string, duration time.Duration, outcome string) {
	attrs := metric.WithAttributes(attribute.String("event_name", eventName))
	m.DispatchLatency.Record(ctx, duration.Seconds(), attrs)

	switch outcome {
	case "published":
		m.DispatchPublished.Add(ctx, 1, attrs)
	case "failed":
		m.DispatchFailed.Add(ctx, 1, attrs)
	case "poisoned":
		m.DispatchPoisoned.Add(ctx, 1, attrs)
	}
}

// RecordHandled records one projection handler invocation.
func (m *Metrics) RecordHandled(ctx context.Context, projectionID, eventName string, err error) {
	attrs := metric.WithAttributes(
		attribute.String("projection_id", projectionID),
		attribute.String("event_name", eventName),
	)
	m.ProjectionHandled.Add(ctx, 1, attrs)
	if err != nil {
		m.ProjectionErrors.Add(ctx, 1, attrs)
	}
}

// RecordLag records the gap between an event occurring and being handled.
func (m *Metrics) RecordLag(ctx context.Context, projectionID string, lag time.Duration) {
	m.ProjectionLag.Record(ctx, lag.Seconds(), metric.WithAttributes(attribute.String("projection_id", projectionID)))
}
