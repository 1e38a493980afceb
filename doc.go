// Package tiercache coordinates a three-level cache: an in-process memory tier,
// an optional shared tier (e.g. Redis, S3) and an optional local disk tier.
//
// Reads go memory -> shared -> disk. A hit in a slower tier is written back
// into every faster tier with the same absolute expiry before it is returned.
// Writes go to memory first; memory is authoritative and is the only tier
// whose error is returned. Shared and disk failures are logged, reported to
// Hooks and degrade the cache to the remaining tiers.
//
// Entries are framed with their expiry (see internal/wire), so expiry is
// enforced on read no matter what the backing tier does with TTLs. Entries that
// fail to decode are deleted from the tier that returned them and reported as
// a miss.
//
// Write-through is validated with generations (see genstore): Get snapshots the
// key generation and the global invalidation epoch before reading slower tiers
// and only copies the entry upward if neither moved. Set and Delete bump the
// key generation, InvalidatePrefix bumps the epoch, so a slow read never
// resurrects an entry that was overwritten or invalidated meanwhile.
//
// Memoize wraps a function so its results are cached under a key derived from
// its arguments:
//
//	c, _ := tiercache.New(tiercache.Options{
//	    Shared: redisTier,
//	    Disk:   diskTier,
//	    Logger: zaplog.New(logger),
//	})
//	defer c.Close(ctx)
//
//	load := tiercache.Memoize(c, loadReport, tiercache.MemoOptions[string, Report]{
//	    TTL: 10 * time.Minute,
//	})
//	r, err := load(ctx, "2024-q1")
package tiercache
