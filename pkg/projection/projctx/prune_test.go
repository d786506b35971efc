package projctx

import (
	"testing"
	"time"
)

func TestPruneContextEvictsOnlyExpiredKeys(t *testing.T) {
	p := NewPruneContext()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p.MarkProcessed("proj-a", "old-key", base.Add(-time.Minute))
	p.MarkProcessed("proj-a", "fresh-key", base.Add(23*time.Hour))

	evicted := p.Prune(base.Add(24*time.Hour), 24*time.Hour)

	if evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}
	if p.AlreadyProcessed("proj-a", "old-key") {
		t.Error("old-key should have been evicted")
	}
	if !p.AlreadyProcessed("proj-a", "fresh-key") {
		t.Error("fresh-key should still be processed")
	}
}

func TestPruneContextNoExpiredKeysEvictsNothing(t *testing.T) {
	p := NewPruneContext()
	now := time.Now()
	p.MarkProcessed("proj-a", "key-1", now)

	evicted := p.Prune(now.Add(time.Minute), time.Hour)

	if evicted != 0 {
		t.Fatalf("evicted = %d, want 0", evicted)
	}
	if !p.AlreadyProcessed("proj-a", "key-1") {
		t.Error("key-1 should still be processed")
	}
}
