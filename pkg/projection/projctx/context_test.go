package projctx

import (
	"sync"
	"testing"
)

func TestContextAlreadyProcessedAndMarkProcessed(t *testing.T) {
	c := New()

	if c.AlreadyProcessed("proj-a", "key-1") {
		t.Fatal("expected key-1 to be unprocessed initially")
	}

	c.MarkProcessed("proj-a", "key-1")
	if !c.AlreadyProcessed("proj-a", "key-1") {
		t.Fatal("expected key-1 to be processed after MarkProcessed")
	}

	if c.AlreadyProcessed("proj-b", "key-1") {
		t.Fatal("processed set must not leak across projections")
	}
}

func TestContextCheckpointLastWriterWins(t *testing.T) {
	c := New()

	if _, ok := c.GetCheckpoint("proj-a"); ok {
		t.Fatal("expected no checkpoint initially")
	}

	c.SaveCheckpoint(Checkpoint{ProjectionID: "proj-a", LastEventVersion: 5})
	c.SaveCheckpoint(Checkpoint{ProjectionID: "proj-a", LastEventVersion: 9})

	cp, ok := c.GetCheckpoint("proj-a")
	if !ok || cp.LastEventVersion != 9 {
		t.Fatalf("checkpoint = %+v, ok=%v, want LastEventVersion=9", cp, ok)
	}
}

func TestContextClearRemovesProcessedCheckpointAndView(t *testing.T) {
	c := New()
	c.MarkProcessed("proj-a", "key-1")
	c.SaveCheckpoint(Checkpoint{ProjectionID: "proj-a", LastEventVersion: 3})
	c.Mutate("proj-a", "agg-1", func(v *QueueView) { v.IncrementCounters("high") })

	c.Clear("proj-a")

	if c.AlreadyProcessed("proj-a", "key-1") {
		t.Error("expected processed set cleared")
	}
	if _, ok := c.GetCheckpoint("proj-a"); ok {
		t.Error("expected checkpoint cleared")
	}
	if view := c.View("proj-a", "agg-1"); view.Counters.Total != 0 {
		t.Errorf("expected view cleared, got %+v", view)
	}
}

func TestContextMutateIsSerializedPerKey(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Mutate("proj-a", "agg-1", func(v *QueueView) {
				v.IncrementCounters("normal")
			})
		}()
	}
	wg.Wait()

	view := c.View("proj-a", "agg-1")
	if view.Counters.Total != 100 {
		t.Fatalf("Counters.Total = %d, want 100 (races would lose increments)", view.Counters.Total)
	}
}

func TestContextViewReturnsZeroValueWhenAbsent(t *testing.T) {
	c := New()
	view := c.View("proj-a", "missing")
	if view.AggregateID != "missing" || view.Counters.Total != 0 {
		t.Fatalf("View for missing aggregate = %+v", view)
	}
}
