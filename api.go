package tiercache

import (
	"time"

	"github.com/unkn0wn-root/tiercache/genstore"
	"github.com/unkn0wn-root/tiercache/tier"
)

const (
	TierMemory = "memory"
	TierShared = "shared"
	TierDisk   = "disk"
)

// Options configure a Coordinator. Every field is optional; a zero Options
// yields a memory-only cache.
type Options struct {
	Memory tier.Tier // nil => tier/memory with defaults (owned and closed by the coordinator)
	Shared tier.Tier // nil => no shared tier
	Disk   tier.Tier // nil => no disk tier

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// GenStore holds generations used to validate write-through.
	// nil => genstore.Local. Use genstore.Redis when several processes share
	// the shared or disk tier and invalidate through it.
	GenStore           genstore.Store
	GenCleanupInterval time.Duration // local store only; 0 => 1h
	GenRetention       time.Duration // local store only; 0 => 24h

	TierTimeout  time.Duration // per shared/disk call; 0 => 2s, <0 disables
	TierCooldown time.Duration // skip a failed tier for this long; 0 => 5s, <0 disables
	LockStripes  int           // key lock stripes; 0 => 256
}

const (
	defaultTierTimeout  = 2 * time.Second
	defaultTierCooldown = 5 * time.Second
	defaultGenSweep     = time.Hour
	defaultGenRetention = 24 * time.Hour
)
