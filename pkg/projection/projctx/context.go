// Package projctx implements the projection context (C6): the dedup set,
// checkpoint store, and view-mutation primitives that projection handlers
// (pkg/projection/queueviews) use. It is a capability set, not a storage
// engine (spec §4.6 explicitly allows "in-memory, embedded, or remote");
// this implementation is in-memory, grounded on the field shape of the
// teacher's pkg/sqlite/checkpoint_store.go (ProjectionId/LastEventVersion)
// but backed by maps and per-key locks instead of SQLite, since nothing in
// the pipeline requires the checkpoint store to survive a process restart
// on its own (the event log is the source of truth; Rebuild recovers it).
package projctx

import (
	"fmt"
	"sync"
	"time"
)

// Checkpoint records how far a projection has advanced (spec §3).
type Checkpoint struct {
	ProjectionID     string
	LastEventVersion int64
	CheckpointedAt   time.Time
	IdempotencyKey   string
	Status           string
}

// Context is the default in-memory projection context.
type Context struct {
	mu         sync.RWMutex
	processed  map[string]map[string]struct{} // projectionID -> idempotencyKey set
	checkpoint map[string]Checkpoint          // projectionID -> checkpoint

	views map[string]map[string]*QueueView // projectionID -> aggregateID -> view

	keyLocks   map[string]*sync.Mutex
	keyLocksMu sync.Mutex
}

// New returns an empty Context.
func New() *Context {
	return &Context{
		processed:  make(map[string]map[string]struct{}),
		checkpoint: make(map[string]Checkpoint),
		views:      make(map[string]map[string]*QueueView),
		keyLocks:   make(map[string]*sync.Mutex),
	}
}

// AlreadyProcessed reports whether idempotencyKey was already applied for
// projectionID (spec §4.6).
func (c *Context) AlreadyProcessed(projectionID, idempotencyKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.processed[projectionID][idempotencyKey]
	return ok
}

// MarkProcessed records idempotencyKey as applied for projectionID.
func (c *Context) MarkProcessed(projectionID, idempotencyKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.processed[projectionID]
	if !ok {
		set = make(map[string]struct{})
		c.processed[projectionID] = set
	}
	set[idempotencyKey] = struct{}{}
}

// GetCheckpoint returns projectionID's checkpoint, if any.
func (c *Context) GetCheckpoint(projectionID string) (Checkpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp, ok := c.checkpoint[projectionID]
	return cp, ok
}

// SaveCheckpoint overwrites projectionID's checkpoint (last-writer-wins,
// spec §3).
func (c *Context) SaveCheckpoint(cp Checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkpoint[cp.ProjectionID] = cp
}

// Clear removes every processed key, checkpoint, and view for projectionID.
// Used as the first step of Rebuild (spec §4.6, §4.7).
func (c *Context) Clear(projectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.processed, projectionID)
	delete(c.checkpoint, projectionID)
	delete(c.views, projectionID)
}

// Mutate serializes writers per (projectionID, aggregateID) (spec §4.6
// "Thread-safety") and applies fn to that aggregate's view, creating an
// empty view on first use. fn must be a pure function of its input beyond
// the in-place edit it performs.
func (c *Context) Mutate(projectionID, aggregateID string, fn func(*QueueView)) {
	unlock := c.lock(projectionID, aggregateID)
	defer unlock()

	c.mu.Lock()
	byAggregate, ok := c.views[projectionID]
	if !ok {
		byAggregate = make(map[string]*QueueView)
		c.views[projectionID] = byAggregate
	}
	view, ok := byAggregate[aggregateID]
	if !ok {
		view = &QueueView{AggregateID: aggregateID}
		byAggregate[aggregateID] = view
	}
	c.mu.Unlock()

	fn(view)
}

// View returns a read-only snapshot (shallow copy of slices) of
// projectionID's view for aggregateID, or the zero view if none exists.
func (c *Context) View(projectionID, aggregateID string) QueueView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	view, ok := c.views[projectionID][aggregateID]
	if !ok {
		return QueueView{AggregateID: aggregateID}
	}
	return view.clone()
}

func (c *Context) lock(projectionID, aggregateID string) func() {
	key := fmt.Sprintf("%s\x00%s", projectionID, aggregateID)

	c.keyLocksMu.Lock()
	mu, ok := c.keyLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		c.keyLocks[key] = mu
	}
	c.keyLocksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
