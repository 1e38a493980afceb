// Package metrics tracks operation latencies with DDSketch quantile sketches.
// A LatencyTracker can be plugged into the worker pool and task queue as a
// Recorder, and into the cache coordinator through CacheHooks.
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Stats summarizes one operation. Latencies are in milliseconds.
type Stats struct {
	Operation string
	Count     int64
	Min       float64
	P50       float64
	P90       float64
	P95       float64
	P99       float64
	Max       float64
}

func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("  %s: no data", s.Operation)
	}
	return fmt.Sprintf("  %s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p95=%.2fms p99=%.2fms max=%.2fms",
		s.Operation, s.Count, s.Min, s.P50, s.P90, s.P95, s.P99, s.Max)
}

// LatencyTracker keeps one sketch per operation name. Safe for concurrent use.
type LatencyTracker struct {
	mu       sync.Mutex
	accuracy float64
	sketches map[string]*ddsketch.DDSketch
}

// NewLatencyTracker returns a tracker whose quantiles are within
// relativeAccuracy (e.g. 0.01 for 1%) of the true value.
func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	return &LatencyTracker{
		accuracy: relativeAccuracy,
		sketches: make(map[string]*ddsketch.DDSketch),
	}
}

// Record adds one observation of op.
func (t *LatencyTracker) Record(op string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	t.mu.Lock()
	defer t.mu.Unlock()
	sk, ok := t.sketches[op]
	if !ok {
		var err error
		sk, err = ddsketch.NewDefaultDDSketch(t.accuracy)
		if err != nil {
			return
		}
		t.sketches[op] = sk
	}
	_ = sk.Add(ms)
}

// RecordFunc times fn under op.
func (t *LatencyTracker) RecordFunc(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	t.Record(op, time.Since(start))
	return err
}

func (t *LatencyTracker) GetStats(op string) (Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sk, ok := t.sketches[op]
	if !ok {
		return Stats{}, fmt.Errorf("no data for operation %q", op)
	}
	return summarize(op, sk)
}

// GetAllStats returns stats for every operation, sorted by name.
func (t *LatencyTracker) GetAllStats() []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stats, 0, len(t.sketches))
	for op, sk := range t.sketches {
		if s, err := summarize(op, sk); err == nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

func summarize(op string, sk *ddsketch.DDSketch) (Stats, error) {
	s := Stats{Operation: op, Count: int64(sk.GetCount())}
	if s.Count == 0 {
		return s, nil
	}
	var err error
	if s.Min, err = sk.GetMinValue(); err != nil {
		return Stats{}, err
	}
	if s.Max, err = sk.GetMaxValue(); err != nil {
		return Stats{}, err
	}
	qs, err := sk.GetValuesAtQuantiles([]float64{0.5, 0.9, 0.95, 0.99})
	if err != nil {
		return Stats{}, err
	}
	s.P50, s.P90, s.P95, s.P99 = qs[0], qs[1], qs[2], qs[3]
	return s, nil
}
