// Package dispatch implements the outbox dispatcher (C5): a background
// polling loop that moves Pending outbox rows to the broker with
// exponential-backoff retry and poison-message quarantine.
//
// Grounded on the teacher's pkg/runner.Service lifecycle (Name/Start/Stop)
// and examples/cmd/sqlite-projection/main.go's polling-loop shape, combined
// with the outbox-specific retry/backoff design drawn from the pack's
// outbox examples.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kestrelhealth/waitqueue/pkg/clock"
	"github.com/kestrelhealth/waitqueue/pkg/dispatch/broker"
	"github.com/kestrelhealth/waitqueue/pkg/eventcodec"
	"github.com/kestrelhealth/waitqueue/pkg/observability"
	"github.com/kestrelhealth/waitqueue/pkg/outbox"
	"github.com/kestrelhealth/waitqueue/pkg/runner"
)

// poisonRetryDelay is the "requires human intervention" quarantine delay
// (spec §4.5 step 4: "a retry-after of one year").
const poisonRetryDelay = 365 * 24 * time.Hour

// Config holds the dispatcher's tunables (spec §4.5, §6 "Configuration
// surface").
type Config struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int
	BaseRetryDelay   time.Duration
	MaxRetryDelay    time.Duration
}

// DefaultConfig returns the defaults named in spec §4.5.
func DefaultConfig() Config {
	return Config{
		PollingInterval:  5 * time.Second,
		BatchSize:        100,
		MaxRetryAttempts: 5,
		BaseRetryDelay:   30 * time.Second,
		MaxRetryDelay:    time.Hour,
	}
}

// Dispatcher is a pkg/runner.Service driving the outbox polling loop.
type Dispatcher struct {
	name   string
	store  outbox.Store
	codec  *eventcodec.Registry
	broker broker.Broker
	logger runner.Logger
	clock  clock.Clock
	config Config
	mw     *observability.DispatchMiddleware

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

type options struct {
	name   string
	logger runner.Logger
	clock  clock.Clock
	config Config
	tel    *observability.Telemetry
}

func defaultOptions() options {
	return options{
		name:   "outbox-dispatcher",
		logger: runner.NewNoopLogger(),
		clock:  clock.System{},
		config: DefaultConfig(),
	}
}

// Option configures a Dispatcher.
type Option func(*options)

// WithName overrides the Service name used in runner logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger.
func WithLogger(l runner.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the clock (spec §9: inject a deterministic clock).
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithConfig overrides the polling/retry configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithTelemetry wraps every publish in a span and records dispatch metrics.
func WithTelemetry(tel *observability.Telemetry) Option {
	return func(o *options) { o.tel = tel }
}

// New builds a Dispatcher over an outbox store, a codec registry (to
// deserialize payloads before publish, per spec §4.1) and a Broker.
func New(store outbox.Store, codec *eventcodec.Registry, b broker.Broker, opts ...Option) *Dispatcher {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := &Dispatcher{
		name:   o.name,
		store:  store,
		codec:  codec,
		broker: b,
		logger: o.logger,
		clock:  o.clock,
		config: o.config,
	}
	if o.tel != nil {
		d.mw = observability.NewDispatchMiddleware(o.tel)
	}
	return d
}

// Name implements runner.Service.
func (d *Dispatcher) Name() string { return d.name }

// Start implements runner.Service: it launches the polling loop in a
// goroutine and returns immediately.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.loop(loopCtx)
	return nil
}

// Stop implements runner.Service: it cancels the loop and waits for the
// in-flight iteration to finish, bounded by ctx (spec §5: "in-flight
// publishes are allowed to complete but not retried past the shutdown
// boundary").
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.config.PollingInterval)
	defer ticker.Stop()

	for {
		d.runIteration(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runIteration fetches and processes one batch. Infrastructure errors are
// logged and swallowed so the loop survives (spec §4.5 step 5, §7
// TransientInfrastructure).
func (d *Dispatcher) runIteration(ctx context.Context) {
	messages, err := d.store.GetPending(ctx, d.config.BatchSize)
	if err != nil {
		d.logger.Error("dispatcher: fetch pending failed", "error", err)
		return
	}

	for _, msg := range messages {
		d.processOneSafely(ctx, msg)
	}
}

// processOneSafely recovers a panic out of processOne so a single broker
// driver bug quarantines one message instead of killing the polling loop.
func (d *Dispatcher) processOneSafely(ctx context.Context, msg outbox.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher: publish panicked",
				"eventId", msg.EventID, "panic", r, "stack", string(debug.Stack()))
			d.fail(ctx, msg, fmt.Errorf("panic: %v", r))
		}
	}()
	d.processOne(ctx, msg)
}

// processOne implements spec §4.5 steps 3-4: deserialize, publish,
// MarkDispatched; on any failure, MarkFailed with backoff or poison delay.
func (d *Dispatcher) processOne(ctx context.Context, msg outbox.Message) {
	if d.mw == nil {
		d.processOneRaw(ctx, msg)
		return
	}

	_ = d.mw.WrapPublish(ctx, msg.EventID, msg.EventName, func(ctx context.Context) (string, error) {
		if err := d.publish(ctx, msg); err != nil {
			outcome := "failed"
			if msg.Attempts+1 >= d.config.MaxRetryAttempts {
				outcome = "poisoned"
			}
			d.fail(ctx, msg, err)
			return outcome, err
		}

		if err := d.store.MarkDispatched(ctx, msg.EventID); err != nil {
			d.logger.Error("dispatcher: mark dispatched failed", "eventId", msg.EventID, "error", err)
		}
		return "published", nil
	})
}

func (d *Dispatcher) processOneRaw(ctx context.Context, msg outbox.Message) {
	if err := d.publish(ctx, msg); err != nil {
		d.fail(ctx, msg, err)
		return
	}

	if err := d.store.MarkDispatched(ctx, msg.EventID); err != nil {
		d.logger.Error("dispatcher: mark dispatched failed", "eventId", msg.EventID, "error", err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, msg outbox.Message) error {
	if _, err := d.codec.Decode(msg.EventName, msg.Payload); err != nil {
		return err
	}

	return d.broker.Publish(ctx, broker.Message{
		MessageID:     msg.EventID,
		CorrelationID: msg.CorrelationID,
		EventName:     msg.EventName,
		ContentType:   "application/json",
		OccurredAt:    msg.OccurredAt,
		Body:          msg.Payload,
	})
}

func (d *Dispatcher) fail(ctx context.Context, msg outbox.Message, cause error) {
	nextAttempts := msg.Attempts + 1

	var retryAfter time.Duration
	if nextAttempts >= d.config.MaxRetryAttempts {
		retryAfter = poisonRetryDelay
		d.logger.Error("dispatcher: message quarantined as poison",
			"eventId", msg.EventID, "attempts", nextAttempts, "cause", cause)
	} else {
		retryAfter = backoffDelay(d.config.BaseRetryDelay, d.config.MaxRetryDelay, msg.Attempts)
		d.logger.Error("dispatcher: publish failed, retry scheduled",
			"eventId", msg.EventID, "attempts", nextAttempts, "retryAfter", retryAfter, "cause", cause)
	}

	if err := d.store.MarkFailed(ctx, msg.EventID, cause.Error(), retryAfter); err != nil {
		d.logger.Error("dispatcher: mark failed failed", "eventId", msg.EventID, "error", err)
	}
}

// backoffDelay computes BaseRetryDelay * 2^attempts, capped at MaxRetryDelay
// (spec §4.5 step 4).
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Requeue resets a quarantined message back to Pending (SPEC_FULL §4: the
// operator escape hatch out of poison quarantine).
func (d *Dispatcher) Requeue(ctx context.Context, eventID string) error {
	return d.store.Requeue(ctx, eventID)
}
