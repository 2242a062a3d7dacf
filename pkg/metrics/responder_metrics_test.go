package metrics

import (
	"testing"
	"time"
)

func TestLatencyTrackerStats(t *testing.T) {
	lt := newLatencyTracker(100)
	for i := 1; i <= 10; i++ {
		lt.record(time.Duration(i) * time.Millisecond)
	}

	stats := lt.stats()
	if stats.Count != 10 {
		t.Fatalf("count = %d, want 10", stats.Count)
	}
	if stats.MaxMS != 10.0 {
		t.Errorf("max = %.1fms, want 10.0ms", stats.MaxMS)
	}
	if stats.P50MS < 4.0 || stats.P50MS > 6.0 {
		t.Errorf("p50 = %.1fms, want around 5ms", stats.P50MS)
	}
}

func TestLatencyTrackerWindowEviction(t *testing.T) {
	lt := newLatencyTracker(10)
	for i := 0; i < 25; i++ {
		lt.record(time.Millisecond)
	}
	if len(lt.samples) > 10 {
		t.Errorf("window holds %d samples, cap is 10", len(lt.samples))
	}
}

func TestObserveAndSnapshot(t *testing.T) {
	Observe("test:op", 5*time.Millisecond)
	Observe("test:op", 15*time.Millisecond)

	snap := LatencySnapshot()
	stats, ok := snap["test:op"]
	if !ok {
		t.Fatal("expected test:op in snapshot")
	}
	if stats.Count < 2 {
		t.Errorf("count = %d, want at least 2", stats.Count)
	}
}

func TestPoolSnapshotNilSafe(t *testing.T) {
	RegisterPool("missing", nil)
	snap := PoolSnapshot()
	if got := snap["missing"]; got.OpenConnections != 0 {
		t.Errorf("nil pool should report zero stats, got %+v", got)
	}
}
