package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WriterMiddleware wraps the transactional writer's Save calls with tracing
// and metrics, grounded on the teacher's RepositoryMiddleware.WrapSave shape
// but generalized to pkg/writer's Save signature instead of an
// aggregate-repository Save.
type WriterMiddleware struct {
	tel *Telemetry
}

// NewWriterMiddleware creates a WriterMiddleware.
func NewWriterMiddleware(tel *Telemetry) *WriterMiddleware {
	return &WriterMiddleware{tel: tel}
}

// WrapSave wraps one Writer.Save call, recording a span and, on success,
// writer latency/save-count/events-appended metrics (spec §4.4).
func (m *WriterMiddleware) WrapSave(ctx context.Context, aggregateID string, expectedVersion int64, operation func(context.Context) (int, error)) (int, error) {
	tracer := m.tel.Tracer("waitqueue.writer")

	ctx, span := tracer.Start(ctx, "writer.save",
		trace.WithAttributes(AggregateAttrs(aggregateID, expectedVersion)...),
	)
	defer span.End()

	start := time.Now()
	newEvents, err := operation(ctx)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if m.tel.Metrics != nil && isVersionConflict(err) {
			m.tel.Metrics.RecordConflict(ctx, aggregateID)
		}
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(AttrEventCount.Int(newEvents))
		if m.tel.Metrics != nil {
			m.tel.Metrics.RecordSave(ctx, duration, newEvents)
		}
	}

	span.SetAttributes(attribute.Float64("duration_ms", float64(duration.Milliseconds())))
	return newEvents, err
}

// isVersionConflict reports whether err implements the narrow interface
// pkg/eventlog.VersionConflictError satisfies, without this package
// depending on pkg/eventlog.
func isVersionConflict(err error) bool {
	type conflict interface {
		Error() string
		Is(target error) bool
	}
	_, ok := err.(conflict)
	return ok
}

// DispatchMiddleware wraps the outbox dispatcher's per-message publish with
// tracing and metrics (spec §4.5).
type DispatchMiddleware struct {
	tel *Telemetry
}

// NewDispatchMiddleware creates a DispatchMiddleware.
func NewDispatchMiddleware(tel *Telemetry) *DispatchMiddleware {
	return &DispatchMiddleware{tel: tel}
}

// WrapPublish wraps one dispatcher message publish. outcome must be one of
// "published", "failed", "poisoned" and is supplied by the caller since only
// the dispatcher knows which retry bucket a failure landed in.
func (m *DispatchMiddleware) WrapPublish(ctx context.Context, eventID, eventName string, operation func(context.Context) (string, error)) error {
	tracer := m.tel.Tracer("waitqueue.dispatch")

	ctx, span := tracer.Start(ctx, "dispatch.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(EventAttrs(eventName, eventID)...),
	)
	defer span.End()

	start := time.Now()
	outcome, err := operation(ctx)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.String("dispatch.outcome", outcome))

	if m.tel.Metrics != nil {
		m.tel.Metrics.RecordPublish(ctx, eventName, duration, outcome)
	}

	return err
}

// ProjectionMiddleware wraps projection engine handler invocations with
// tracing and metrics (spec §4.7).
type ProjectionMiddleware struct {
	tel *Telemetry
}

// NewProjectionMiddleware creates a ProjectionMiddleware.
func NewProjectionMiddleware(tel *Telemetry) *ProjectionMiddleware {
	return &ProjectionMiddleware{tel: tel}
}

// WrapHandle wraps one Handler.Handle invocation, recording span status and
// projection lag (the gap between the event's OccurredAt and now).
func (m *ProjectionMiddleware) WrapHandle(ctx context.Context, projectionID, eventName string, occurredAt time.Time, operation func(context.Context) error) error {
	tracer := m.tel.Tracer("waitqueue.projection")

	ctx, span := tracer.Start(ctx, "projection.handle",
		trace.WithAttributes(
			AttrProjectionID.String(projectionID),
			AttrEventType.String(eventName),
		),
	)
	defer span.End()

	err := operation(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if m.tel.Metrics != nil {
		m.tel.Metrics.RecordHandled(ctx, projectionID, eventName, err)
		m.tel.Metrics.RecordLag(ctx, projectionID, time.Since(occurredAt))
	}

	return err
}
