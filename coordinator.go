package tiercache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/unkn0wn-root/tiercache/genstore"
	"github.com/unkn0wn-root/tiercache/internal/locking"
	"github.com/unkn0wn-root/tiercache/internal/wire"
	"github.com/unkn0wn-root/tiercache/tier"
	"github.com/unkn0wn-root/tiercache/tier/memory"
)

type tierState struct {
	name  string
	t     tier.Tier
	local bool // memory tier: no timeout, no cooldown

	downUntil atomic.Int64 // unix nanos; 0 => up
}

func (ts *tierState) available(now time.Time) bool {
	return ts.local || now.UnixNano() >= ts.downUntil.Load()
}

type genSnap struct {
	key   uint64
	epoch uint64
}

// Coordinator reads and writes through the configured tiers.
// Safe for concurrent use.
type Coordinator struct {
	tiers []*tierState // fastest first; tiers[0] is memory

	log      Logger
	hooks    Hooks
	gen      genstore.Store
	timeout  time.Duration
	cooldown time.Duration

	// locks serializes Set/Delete/write-through per key.
	locks *locking.Striped
	// inval is held exclusively by InvalidatePrefix and shared by every
	// writer, so no write lands halfway through a prefix invalidation.
	inval sync.RWMutex

	stats counters
	now   func() time.Time
}

func New(opts Options) (*Coordinator, error) {
	c := &Coordinator{
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
		timeout:  orDisabled(opts.TierTimeout, defaultTierTimeout),
		cooldown: orDisabled(opts.TierCooldown, defaultTierCooldown),
		locks:    locking.NewStriped(opts.LockStripes),
		now:      time.Now,
	}

	mem := opts.Memory
	if mem == nil {
		mem = memory.New(memory.Config{})
	}
	c.tiers = append(c.tiers, &tierState{name: TierMemory, t: mem, local: true})
	if opts.Shared != nil {
		c.tiers = append(c.tiers, &tierState{name: TierShared, t: opts.Shared})
	}
	if opts.Disk != nil {
		c.tiers = append(c.tiers, &tierState{name: TierDisk, t: opts.Disk})
	}

	if opts.GenStore != nil {
		c.gen = opts.GenStore
	} else {
		c.gen = genstore.NewLocal(
			coalesce(opts.GenCleanupInterval, defaultGenSweep),
			coalesce(opts.GenRetention, defaultGenRetention),
		)
	}
	return c, nil
}

// Get returns the live value stored under key, searching memory, shared and
// disk in that order. Tier failures degrade to a miss in that tier; Get never
// returns an error.
func (c *Coordinator) Get(ctx context.Context, key string) ([]byte, bool) {
	now := c.now()

	if e, _, ok := c.readTier(ctx, c.tiers[0], key, now); ok {
		c.stats.hits[0].Add(1)
		return e.Value, true
	}
	if len(c.tiers) == 1 {
		c.stats.misses.Add(1)
		return nil, false
	}

	// snapshot before touching slower tiers; see writeThrough
	snap, snapErr := c.snapshot(ctx, key)
	for i := 1; i < len(c.tiers); i++ {
		e, raw, ok := c.readTier(ctx, c.tiers[i], key, now)
		if !ok {
			continue
		}
		c.stats.hits[c.statIndex(i)].Add(1)
		if snapErr != nil {
			c.hooks.WriteThroughSkipped(key, "snapshot_error")
		} else {
			c.writeThrough(ctx, key, raw, e, i, snap, now)
		}
		return e.Value, true
	}
	c.stats.misses.Add(1)
	return nil, false
}

// Set stores value in every tier with an absolute expiry of now+ttl
// (ttl <= 0 never expires). Only a memory tier failure is returned.
func (c *Coordinator) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	raw := wire.Encode(wire.ExpiresAt(c.now(), ttl), value)

	defer c.locks.Lock(key)()
	c.inval.RLock()
	defer c.inval.RUnlock()

	c.bump(ctx, key)
	if err := c.tiers[0].t.Set(ctx, key, raw, ttl); err != nil {
		return &TierError{Tier: TierMemory, Op: "set", Err: err}
	}
	for _, ts := range c.tiers[1:] {
		c.callTier(ctx, ts, "set", key, func(tctx context.Context) error {
			return ts.t.Set(tctx, key, raw, ttl)
		})
	}
	return nil
}

// Delete removes key from every tier. Only a memory tier failure is returned.
func (c *Coordinator) Delete(ctx context.Context, key string) error {
	defer c.locks.Lock(key)()
	c.inval.RLock()
	defer c.inval.RUnlock()

	c.bump(ctx, key)
	if err := c.tiers[0].t.Del(ctx, key); err != nil {
		return &TierError{Tier: TierMemory, Op: "del", Err: err}
	}
	for _, ts := range c.tiers[1:] {
		c.callTier(ctx, ts, "del", key, func(tctx context.Context) error {
			return ts.t.Del(tctx, key)
		})
	}
	return nil
}

// InvalidatePrefix removes every key starting with prefix from every tier;
// "" clears the cache. Tiers in cooldown are still attempted. Only a memory
// tier failure is returned.
func (c *Coordinator) InvalidatePrefix(ctx context.Context, prefix string) error {
	c.inval.Lock()
	defer c.inval.Unlock()

	c.bump(ctx, genstore.EpochKey)

	var memErr error
	for i, ts := range c.tiers {
		tctx, cancel := c.tierContext(ctx, ts)
		start := time.Now()
		err := ts.t.DeletePrefix(tctx, prefix)
		cancel()
		c.hooks.TierLatency(ts.name, "delete_prefix", time.Since(start))
		if err == nil {
			c.markUp(ts)
			continue
		}
		if i == 0 {
			memErr = &TierError{Tier: ts.name, Op: "delete_prefix", Err: err}
			continue
		}
		c.markDown(ctx, ts, "delete_prefix", prefix, err)
	}
	// a Get that snapshotted after the first bump may have read a tier before
	// its DeletePrefix ran; its write-through must see a new epoch too
	c.bump(ctx, genstore.EpochKey)
	c.log.Debug("invalidated prefix", Fields{"prefix": prefix})
	return memErr
}

// Close closes the generation store and every tier, returning the first error.
func (c *Coordinator) Close(ctx context.Context) error {
	var first error
	if err := c.gen.Close(ctx); err != nil {
		first = errors.Wrap(err, "tiercache: close genstore")
	}
	for _, ts := range c.tiers {
		if err := ts.t.Close(ctx); err != nil && first == nil {
			first = &TierError{Tier: ts.name, Op: "close", Err: err}
		}
	}
	return first
}

// readTier returns the decoded live entry and its framed bytes. Corrupt and
// expired entries are deleted from ts and reported as a miss.
func (c *Coordinator) readTier(ctx context.Context, ts *tierState, key string, now time.Time) (wire.Entry, []byte, bool) {
	if !ts.available(now) {
		return wire.Entry{}, nil, false
	}
	tctx, cancel := c.tierContext(ctx, ts)
	start := time.Now()
	raw, ok, err := ts.t.Get(tctx, key)
	cancel()
	c.hooks.TierLatency(ts.name, "get", time.Since(start))

	switch {
	case errors.Is(err, tier.ErrCorrupt):
		c.selfHeal(ctx, ts, key, "corrupt")
		return wire.Entry{}, nil, false
	case err != nil:
		if ts.local {
			c.log.Warn("memory tier get failed", Fields{"key": key, "err": err})
		} else {
			c.markDown(ctx, ts, "get", key, err)
		}
		return wire.Entry{}, nil, false
	}
	c.markUp(ts)
	if !ok {
		return wire.Entry{}, nil, false
	}

	e, err := wire.Decode(raw)
	if err != nil {
		c.selfHeal(ctx, ts, key, "corrupt")
		return wire.Entry{}, nil, false
	}
	if e.Expired(now) {
		c.selfHeal(ctx, ts, key, "expired")
		return wire.Entry{}, nil, false
	}
	return e, raw, true
}

// writeThrough copies raw from tiers[from] into every faster tier, keeping its
// absolute expiry. It is skipped if the key generation or the invalidation
// epoch moved since snap was taken.
func (c *Coordinator) writeThrough(ctx context.Context, key string, raw []byte, e wire.Entry, from int, snap genSnap, now time.Time) {
	ttl := e.TTL(now)
	if ttl < 0 {
		return
	}

	defer c.locks.Lock(key)()
	c.inval.RLock()
	defer c.inval.RUnlock()

	cur, err := c.snapshot(ctx, key)
	if err != nil {
		c.hooks.WriteThroughSkipped(key, "snapshot_error")
		return
	}
	if cur != snap {
		c.log.Debug("write-through skipped (generation changed)", Fields{"key": key, "from": c.tiers[from].name})
		c.hooks.WriteThroughSkipped(key, "generation_changed")
		return
	}

	for i := 0; i < from; i++ {
		ts := c.tiers[i]
		if ts.local {
			if err := ts.t.Set(ctx, key, raw, ttl); err != nil {
				c.log.Warn("memory tier write-through failed", Fields{"key": key, "err": err})
			}
			continue
		}
		c.callTier(ctx, ts, "set", key, func(tctx context.Context) error {
			return ts.t.Set(tctx, key, raw, ttl)
		})
	}
	c.stats.writeThroughs.Add(1)
	c.hooks.WriteThrough(key, c.tiers[from].name)
}

// callTier runs a best-effort shared/disk operation under the tier timeout.
// Failures are logged and put the tier into cooldown.
func (c *Coordinator) callTier(ctx context.Context, ts *tierState, op, key string, fn func(context.Context) error) {
	if !ts.available(c.now()) {
		return
	}
	tctx, cancel := c.tierContext(ctx, ts)
	defer cancel()
	start := time.Now()
	err := fn(tctx)
	c.hooks.TierLatency(ts.name, op, time.Since(start))
	if err != nil {
		c.markDown(ctx, ts, op, key, err)
		return
	}
	c.markUp(ts)
}

func (c *Coordinator) selfHeal(ctx context.Context, ts *tierState, key, reason string) {
	tctx, cancel := c.tierContext(ctx, ts)
	err := ts.t.Del(tctx, key)
	cancel()
	if err != nil {
		c.log.Warn("self-heal delete failed", Fields{"tier": ts.name, "key": key, "err": err})
	}
	c.stats.selfHeals.Add(1)
	c.hooks.SelfHeal(ts.name, key, reason)
	c.log.Debug("self-healed entry", Fields{"tier": ts.name, "key": key, "reason": reason})
}

// markDown records a tier failure. A failure caused by the caller's own
// context does not count against the tier.
func (c *Coordinator) markDown(ctx context.Context, ts *tierState, op, key string, err error) {
	if ctx.Err() != nil {
		return
	}
	c.stats.tierErrors.Add(1)
	terr := &TierError{Tier: ts.name, Op: op, Err: err}
	c.hooks.TierUnavailable(ts.name, op, terr)
	if c.cooldown <= 0 {
		c.log.Warn("cache tier unavailable", Fields{"tier": ts.name, "op": op, "key": key, "err": err})
		return
	}
	until := c.now().Add(c.cooldown).UnixNano()
	if prev := ts.downUntil.Swap(until); prev == 0 {
		c.log.Warn("cache tier unavailable, degrading", Fields{
			"tier": ts.name, "op": op, "key": key, "err": err, "cooldown": c.cooldown.String(),
		})
	}
}

func (c *Coordinator) markUp(ts *tierState) {
	if ts.local {
		return
	}
	if ts.downUntil.Swap(0) != 0 {
		c.log.Info("cache tier recovered", Fields{"tier": ts.name})
	}
}

func (c *Coordinator) tierContext(ctx context.Context, ts *tierState) (context.Context, context.CancelFunc) {
	if ts.local || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Coordinator) snapshot(ctx context.Context, key string) (genSnap, error) {
	m, err := c.gen.SnapshotMany(ctx, []string{key, genstore.EpochKey})
	if err != nil {
		c.hooks.GenStoreError("snapshot", err)
		c.log.Warn("gen snapshot error", Fields{"key": key, "err": err})
		return genSnap{}, err
	}
	return genSnap{key: m[key], epoch: m[genstore.EpochKey]}, nil
}

func (c *Coordinator) bump(ctx context.Context, key string) {
	if _, err := c.gen.Bump(ctx, key); err != nil {
		c.hooks.GenStoreError("bump", err)
		c.log.Error("gen bump error", Fields{"key": key, "err": err})
	}
}

// statIndex maps a position in c.tiers to the memory/shared/disk hit counter.
func (c *Coordinator) statIndex(i int) int {
	switch c.tiers[i].name {
	case TierShared:
		return 1
	case TierDisk:
		return 2
	}
	return 0
}
