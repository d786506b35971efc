package main

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelhealth/waitqueue/pkg/eventlog"
	"github.com/kestrelhealth/waitqueue/pkg/projection"
	"github.com/kestrelhealth/waitqueue/pkg/runner"
)

// pollerService live-follows the event log, feeding events to
// engine.ProcessEvents on a fixed interval. It starts its own offset at 0
// and relies on each handler's AlreadyProcessed/MarkProcessed idempotency
// check (spec §4.7) to no-op the events Rebuild already folded in main, so
// it never needs to coordinate cursors with the rebuild step. It implements
// runner.Service so main can run it under runner.Runner.
type pollerService struct {
	log      eventlog.Store
	engine   *projection.Engine
	logger   runner.Logger
	interval time.Duration
	batch    int

	offset int

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

func newPollerService(log eventlog.Store, engine *projection.Engine, logger runner.Logger, interval time.Duration, batch int) *pollerService {
	return &pollerService{log: log, engine: engine, logger: logger, interval: interval, batch: batch}
}

// Name implements runner.Service.
func (p *pollerService) Name() string { return "projection-poller" }

// Start implements runner.Service.
func (p *pollerService) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx)
	return nil
}

// Stop implements runner.Service.
func (p *pollerService) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

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

func (p *pollerService) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pollOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *pollerService) pollOnce(ctx context.Context) {
	for {
		events, err := p.log.ReadAll(ctx, p.offset, p.batch)
		if err != nil {
			p.logger.Error("projection poller: read all failed", "error", err)
			return
		}
		if len(events) == 0 {
			return
		}

		if err := p.engine.ProcessEvents(ctx, events); err != nil {
			p.logger.Error("projection poller: process events failed", "error", err)
			return
		}

		p.offset += len(events)
		if len(events) < p.batch {
			return
		}
	}
}
