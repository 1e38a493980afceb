// Package sloghooks reports coordinator events through log/slog.
package sloghooks

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/key"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery     uint64
	WriteThroughEvery uint64
	// SlowTier logs tier calls slower than this at Warn; 0 disables latency logs.
	SlowTier time.Duration
	// Optional key redactor. Defaults to a short digest.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr     atomic.Uint64
	writeThroughCtr atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return key.Hash(k)[:16]
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) TierLatency(tier, op string, d time.Duration) {
	if h.l == nil || h.opts.SlowTier <= 0 || d < h.opts.SlowTier {
		return
	}
	h.l.Warn("tiercache.slow_tier",
		"tier", tier,
		"op", op,
		"duration", d)
}

func (h *Hooks) TierUnavailable(tier, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.tier_unavailable",
		"tier", tier,
		"op", op,
		"err", err)
}

func (h *Hooks) SelfHeal(tier, k, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("tiercache.self_heal",
		"tier", tier,
		"key", h.redact(k),
		"reason", reason)
}

func (h *Hooks) WriteThrough(k, from string) {
	if h.l == nil || !sample(h.opts.WriteThroughEvery, &h.writeThroughCtr) {
		return
	}
	h.l.Debug("tiercache.write_through",
		"key", h.redact(k),
		"from", from)
}

func (h *Hooks) WriteThroughSkipped(k, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("tiercache.write_through_skipped",
		"key", h.redact(k),
		"reason", reason)
}

func (h *Hooks) GenStoreError(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.genstore_error",
		"op", op,
		"err", err)
}
