package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache"
)

func TestLatencyTracker(t *testing.T) {
	tracker := NewLatencyTracker(0.01)

	operations := []string{"task", "shared_get"}
	for _, op := range operations {
		for _, ms := range []int{1, 5, 10, 50, 100} {
			tracker.Record(op, time.Duration(ms)*time.Millisecond)
		}
	}

	for _, op := range operations {
		stats, err := tracker.GetStats(op)
		if err != nil {
			t.Fatalf("stats for %s: %v", op, err)
		}
		if stats.Count != 5 {
			t.Errorf("%s: count %d, want 5", op, stats.Count)
		}
		if stats.Min < 0.9 || stats.Min > 1.1 {
			t.Errorf("%s: min %.2fms, want ~1ms", op, stats.Min)
		}
		if stats.Max < 99 || stats.Max > 101 {
			t.Errorf("%s: max %.2fms, want ~100ms", op, stats.Max)
		}
		if stats.P50 < 5 || stats.P50 > 15 {
			t.Errorf("%s: p50 %.2fms, want ~10ms", op, stats.P50)
		}
	}

	all := tracker.GetAllStats()
	if len(all) != 2 || all[0].Operation != "shared_get" || all[1].Operation != "task" {
		t.Fatalf("GetAllStats = %+v", all)
	}
	if _, err := tracker.GetStats("nonexistent"); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}

func TestRecordFunc(t *testing.T) {
	tracker := NewLatencyTracker(0.01)
	boom := errors.New("boom")
	if err := tracker.RecordFunc("op", func() error {
		time.Sleep(10 * time.Millisecond)
		return boom
	}); err != boom {
		t.Fatalf("RecordFunc must return fn's error, got %v", err)
	}
	stats, err := tracker.GetStats("op")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Count != 1 || stats.Min < 9 {
		t.Fatalf("stats %+v", stats)
	}
}

func TestStatsString(t *testing.T) {
	s := Stats{Operation: "task", Count: 100, Min: 1.5, P50: 10.2, P90: 50.7, P95: 75.3, P99: 99.1, Max: 120.5}
	want := "  task (n=100): min=1.50ms p50=10.20ms p90=50.70ms p95=75.30ms p99=99.10ms max=120.50ms"
	if got := s.String(); got != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}
	if got := (Stats{Operation: "empty"}).String(); got != "  empty: no data" {
		t.Fatalf("empty: %q", got)
	}
}

func TestCacheHooksRecordTierLatency(t *testing.T) {
	ctx := context.Background()
	tracker := NewLatencyTracker(0.01)
	hooks := NewCacheHooks(tracker)

	c, err := tiercache.New(tiercache.Options{Hooks: hooks})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	_ = c.Set(ctx, "k", []byte("v"), 0)
	c.Get(ctx, "k")

	stats, err := tracker.GetStats("memory_get")
	if err != nil || stats.Count != 1 {
		t.Fatalf("memory_get stats=%+v err=%v", stats, err)
	}
}
