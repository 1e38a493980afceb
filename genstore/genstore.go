// Package genstore keeps per-key generation counters. The coordinator
// snapshots a key's generation before reading slower tiers and only writes a
// found entry back into faster tiers if the generation is unchanged, so a
// concurrent Set, Delete or InvalidatePrefix is never overwritten by a stale
// read.
package genstore

import (
	"context"
	"time"
)

// EpochKey is the generation bumped by prefix invalidation. Local stores never
// prune it.
const EpochKey = "\x00epoch"

// Store abstracts where generations live.
// Use Local (default) for in-process generations, or Redis to share them
// between processes that share the same tiers.
type Store interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany returns generations for many keys; missing => 0.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes entries idle for longer than retention (no-op for Redis).
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
