// Package projection implements the projection engine (C7): a static
// EventName -> Handler table that drives event replay into read views via
// pkg/projection/projctx, incrementally or by full rebuild.
//
// Grounded on the teacher's reflection-free dispatch note (spec §9:
// "Reflection-based handler dispatch... replaced by an explicit
// EventName -> Handler table registered at construction") and the teacher's
// examples/cmd/sqlite-projection/main.go polling/replay shape.
package projection

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/kestrelhealth/waitqueue/pkg/clock"
	"github.com/kestrelhealth/waitqueue/pkg/eventlog"
	"github.com/kestrelhealth/waitqueue/pkg/observability"
	"github.com/kestrelhealth/waitqueue/pkg/projection/projctx"
	"github.com/kestrelhealth/waitqueue/pkg/runner"
)

// DurableCheckpointStore persists a projection's checkpoint outside the
// in-memory projctx.Context, so its last-known progress survives a restart
// independently of view state (e.g. pkg/checkpoint/sqlite.Store).
type DurableCheckpointStore interface {
	Save(ctx context.Context, cp projctx.Checkpoint) error
}

// Handler transforms one event into view mutations (C8).
type Handler interface {
	// EventName is the event kind this handler applies to.
	EventName() string

	// Handle applies event to ctx. Implementations derive the idempotency
	// key, check AlreadyProcessed, mutate, and MarkProcessed (spec §4.7).
	Handle(ctx context.Context, pctx *projctx.Context, event eventlog.Event) error
}

// Engine is the projection engine (C7).
type Engine struct {
	projectionID string
	handlers     map[string]Handler
	log          eventlog.Store
	ctx          *projctx.Context
	logger       runner.Logger
	mw           *observability.ProjectionMiddleware
	durable      DurableCheckpointStore
	clock        clock.Clock
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for skip/error diagnostics.
func WithLogger(l runner.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTelemetry wraps every handler invocation in a span and records
// projection-lag/handled metrics.
func WithTelemetry(tel *observability.Telemetry) Option {
	return func(e *Engine) { e.mw = observability.NewProjectionMiddleware(tel) }
}

// WithDurableCheckpoints mirrors every in-memory checkpoint write to store,
// stamped with the given clock, so "where did this projection last get to"
// survives a process restart.
func WithDurableCheckpoints(store DurableCheckpointStore, cl clock.Clock) Option {
	return func(e *Engine) {
		e.durable = store
		e.clock = cl
	}
}

// New builds an Engine with a static handler table, keyed by each handler's
// EventName.
func New(projectionID string, log eventlog.Store, pctx *projctx.Context, handlers []Handler, opts ...Option) *Engine {
	table := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		table[h.EventName()] = h
	}

	e := &Engine{
		projectionID: projectionID,
		handlers:     table,
		log:          log,
		ctx:          pctx,
		logger:       runner.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessEvent routes one event to its handler and checkpoints (spec §4.7).
// An event with no registered handler is logged and skipped, not an error.
func (e *Engine) ProcessEvent(ctx context.Context, event eventlog.Event) error {
	if err := e.dispatch(ctx, event); err != nil {
		return err
	}
	e.saveCheckpoint(ctx, projctx.Checkpoint{
		ProjectionID:     e.projectionID,
		LastEventVersion: event.Version,
	})
	return nil
}

// saveCheckpoint writes cp to the in-memory context and, if configured, to
// the durable store. A durable-write failure is logged, not propagated:
// the in-memory checkpoint (and thus at-least-once replay on restart) is
// the safety net.
func (e *Engine) saveCheckpoint(ctx context.Context, cp projctx.Checkpoint) {
	e.ctx.SaveCheckpoint(cp)
	if e.durable == nil {
		return
	}
	cp.CheckpointedAt = e.clock.Now()
	if err := e.durable.Save(ctx, cp); err != nil {
		e.logger.Error("projection: durable checkpoint save failed",
			"projectionId", e.projectionID, "error", err)
	}
}

// ProcessEvents routes a batch of events, one handler call each, then
// writes a single checkpoint with LastEventVersion = max(versions) (spec
// §4.7).
func (e *Engine) ProcessEvents(ctx context.Context, events []eventlog.Event) error {
	var maxVersion int64
	for _, event := range events {
		if err := e.dispatch(ctx, event); err != nil {
			return err
		}
		if event.Version > maxVersion {
			maxVersion = event.Version
		}
	}
	if len(events) > 0 {
		e.saveCheckpoint(ctx, projctx.Checkpoint{
			ProjectionID:     e.projectionID,
			LastEventVersion: maxVersion,
		})
	}
	return nil
}

// dispatch looks up the handler for event.EventName; missing handlers are
// logged and skipped (spec §4.1, §4.7), not propagated. A handler panic is
// recovered and surfaced as an error rather than crashing the poller or
// aborting a Rebuild with no diagnostic.
func (e *Engine) dispatch(ctx context.Context, event eventlog.Event) (err error) {
	handler, ok := e.handlers[event.EventName]
	if !ok {
		e.logger.Info("projection: no handler registered, skipping",
			"projectionId", e.projectionID, "eventName", event.EventName, "eventId", event.EventID)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("projection: handler for %s (event %s) panicked: %v\n%s",
				event.EventName, event.EventID, r, debug.Stack())
		}
	}()

	if e.mw == nil {
		if err := handler.Handle(ctx, e.ctx, event); err != nil {
			return fmt.Errorf("projection: handle %s (event %s): %w", event.EventName, event.EventID, err)
		}
		return nil
	}

	handleErr := e.mw.WrapHandle(ctx, e.projectionID, event.EventName, event.OccurredAt, func(ctx context.Context) error {
		return handler.Handle(ctx, e.ctx, event)
	})
	if handleErr != nil {
		return fmt.Errorf("projection: handle %s (event %s): %w", event.EventName, event.EventID, handleErr)
	}
	return nil
}

// Rebuild clears this projection's state and replays the entire log through
// Handle, then checkpoints with Status = "rebuild-complete" (spec §4.7).
// Rebuild aborts on the first handler error (spec §7).
func (e *Engine) Rebuild(ctx context.Context) error {
	e.ctx.Clear(e.projectionID)

	const pageSize = 500
	var lastVersion int64
	offset := 0

	for {
		events, err := e.log.ReadAll(ctx, offset, pageSize)
		if err != nil {
			return fmt.Errorf("projection: rebuild read all: %w", err)
		}
		if len(events) == 0 {
			break
		}

		for _, event := range events {
			if err := e.dispatch(ctx, event); err != nil {
				return fmt.Errorf("projection: rebuild aborted: %w", err)
			}
			if event.Version > lastVersion {
				lastVersion = event.Version
			}
		}

		offset += len(events)
		if len(events) < pageSize {
			break
		}
	}

	e.saveCheckpoint(ctx, projctx.Checkpoint{
		ProjectionID:     e.projectionID,
		LastEventVersion: lastVersion,
		Status:           "rebuild-complete",
	})
	return nil
}
