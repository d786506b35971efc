package projctx

import "time"

// processedEntry pairs a key with when it was marked, so Prune can evict by
// age. MarkProcessed above doesn't track time; PruneContext wraps it for
// callers that want pruning (SPEC_FULL §4 supplement), keeping the hot path
// in MarkProcessed allocation-free for callers that never prune.
type processedEntry struct {
	key       string
	markedAt  time.Time
	projectID string
}

// PruneContext extends Context with an age-ordered log of processed keys so
// old idempotency keys can be evicted, mirroring the teacher's
// CleanExpiredCommands maintenance operation applied here to projection
// dedup state instead of command dedup state.
type PruneContext struct {
	*Context
	log []processedEntry
}

// NewPruneContext wraps a fresh Context with pruning support.
func NewPruneContext() *PruneContext {
	return &PruneContext{Context: New()}
}

// MarkProcessed records the key (delegating to Context) and appends it to
// the age-ordered log Prune consumes.
func (p *PruneContext) MarkProcessed(projectionID, idempotencyKey string, now time.Time) {
	p.Context.MarkProcessed(projectionID, idempotencyKey)
	p.log = append(p.log, processedEntry{key: idempotencyKey, markedAt: now, projectID: projectionID})
}

// Prune evicts processed keys marked before the retention cutoff (now -
// retention), so the dedup set does not grow without bound across a
// projection's lifetime (SPEC_FULL §4).
func (p *PruneContext) Prune(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)
	kept := p.log[:0]
	evicted := 0

	p.mu.Lock()
	for _, entry := range p.log {
		if entry.markedAt.Before(cutoff) {
			if set, ok := p.processed[entry.projectID]; ok {
				delete(set, entry.key)
			}
			evicted++
			continue
		}
		kept = append(kept, entry)
	}
	p.mu.Unlock()

	p.log = kept
	return evicted
}
