package metrics

import (
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tiercache"
)

// CacheHooks feeds coordinator events into a LatencyTracker and counters.
// Tier latencies are recorded as "<tier>_<op>", e.g. "shared_get".
type CacheHooks struct {
	t *LatencyTracker

	TierFailures         atomic.Uint64
	SelfHeals            atomic.Uint64
	WriteThroughs        atomic.Uint64
	SkippedWriteThroughs atomic.Uint64
	GenStoreErrors       atomic.Uint64
}

var _ tiercache.Hooks = (*CacheHooks)(nil)

func NewCacheHooks(t *LatencyTracker) *CacheHooks { return &CacheHooks{t: t} }

func (h *CacheHooks) TierLatency(tier, op string, d time.Duration) {
	h.t.Record(tier+"_"+op, d)
}
func (h *CacheHooks) TierUnavailable(string, string, error) { h.TierFailures.Add(1) }
func (h *CacheHooks) SelfHeal(string, string, string)       { h.SelfHeals.Add(1) }
func (h *CacheHooks) WriteThrough(string, string)           { h.WriteThroughs.Add(1) }
func (h *CacheHooks) WriteThroughSkipped(string, string)    { h.SkippedWriteThroughs.Add(1) }
func (h *CacheHooks) GenStoreError(string, error)           { h.GenStoreErrors.Add(1) }
