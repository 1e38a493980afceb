package config

import (
	"context"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/genstore"
	"github.com/unkn0wn-root/tiercache/log"
	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/taskqueue"
	"github.com/unkn0wn-root/tiercache/tier"
	bigtier "github.com/unkn0wn-root/tiercache/tier/bigcache"
	"github.com/unkn0wn-root/tiercache/tier/disk"
	"github.com/unkn0wn-root/tiercache/tier/memory"
	redistier "github.com/unkn0wn-root/tiercache/tier/redis"
	ristier "github.com/unkn0wn-root/tiercache/tier/ristretto"
	s3tier "github.com/unkn0wn-root/tiercache/tier/s3"
)

// Deps are runtime collaborators that do not come from the file.
type Deps struct {
	Logger log.Logger
	Hooks  tiercache.Hooks
}

// Build opens every configured tier and returns a Coordinator owning them.
// On error, tiers opened so far are closed.
func (c Config) Build(ctx context.Context, d Deps) (*tiercache.Coordinator, error) {
	var (
		opened []tier.Tier
		rdb    goredis.UniversalClient
		ok     bool
	)
	defer func() {
		if ok {
			return
		}
		for _, t := range opened {
			_ = t.Close(ctx)
		}
		if rdb != nil {
			_ = rdb.Close()
		}
	}()

	opts := tiercache.Options{
		Logger:       d.Logger,
		Hooks:        d.Hooks,
		TierTimeout:  c.TierTimeout.D(),
		TierCooldown: c.TierCooldown.D(),
		LockStripes:  c.LockStripes,
	}

	mem, err := c.memoryTier(ctx)
	if err != nil {
		return nil, err
	}
	opened = append(opened, mem)
	opts.Memory = mem

	if c.Shared.Redis.Addr != "" && (c.Shared.Kind == "redis" || c.GenStore == "redis") {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     c.Shared.Redis.Addr,
			Password: c.Shared.Redis.Password,
			DB:       c.Shared.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// generations must be shared to be correct; the shared tier itself
			// is best effort and the coordinator puts it into cooldown
			if c.GenStore == "redis" {
				return nil, errors.Wrapf(err, "config: redis %s", c.Shared.Redis.Addr)
			}
			log.OrNop(d.Logger).Warn("shared tier unreachable, continuing without it until it recovers", log.Fields{
				"addr": c.Shared.Redis.Addr, "err": err,
			})
		}
	}

	switch c.Shared.Kind {
	case "redis":
		t, err := redistier.New(redistier.Config{
			Client:      rdb,
			Namespace:   c.Shared.Redis.Namespace,
			CloseClient: true,
		})
		if err != nil {
			return nil, err
		}
		opts.Shared = t
	case "s3":
		cl, err := s3tier.NewClient(ctx, s3tier.ClientOptions{
			Profile:  c.Shared.S3.Profile,
			Region:   c.Shared.S3.Region,
			Endpoint: c.Shared.S3.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		t, err := s3tier.New(s3tier.Config{Client: cl, Bucket: c.Shared.S3.Bucket, Prefix: c.Shared.S3.Prefix})
		if err != nil {
			return nil, err
		}
		opened = append(opened, t)
		opts.Shared = t
	}

	if c.Disk.Dir != "" {
		t, err := disk.New(disk.Config{Dir: c.Disk.Dir})
		if err != nil {
			return nil, err
		}
		opened = append(opened, t)
		opts.Disk = t
	}

	if c.GenStore == "redis" {
		// the shared tier owns the client when it is redis too
		gs, err := genstore.NewRedis(genstore.RedisConfig{
			Client:      rdb,
			Namespace:   c.Shared.Redis.Namespace,
			TTL:         c.Shared.Redis.GenTTL.D(),
			CloseClient: c.Shared.Kind != "redis",
		})
		if err != nil {
			return nil, err
		}
		opts.GenStore = gs
	}

	coord, err := tiercache.New(opts)
	if err != nil {
		return nil, err
	}
	ok = true
	return coord, nil
}

func (c Config) memoryTier(ctx context.Context) (tier.Tier, error) {
	switch c.Memory.Kind {
	case "bigcache":
		return bigtier.New(ctx, bigtier.Config{
			LifeWindow:         c.Memory.LifeWindow.D(),
			CleanWindow:        c.Memory.CleanupInterval.D(),
			HardMaxCacheSizeMB: c.Memory.MaxSizeMB,
		})
	case "ristretto":
		maxCost := int64(c.Memory.MaxSizeMB) << 20
		if maxCost <= 0 {
			maxCost = 64 << 20
		}
		return ristier.New(ristier.Config{
			NumCounters: maxCost / 100, // ~10x the expected item count at ~1KiB values
			MaxCost:     maxCost,
			BufferItems: 64,
		})
	}
	return memory.New(memory.Config{
		Shards:          c.Memory.Shards,
		CleanupInterval: c.Memory.CleanupInterval.D(),
	}), nil
}

// PoolConfig returns the worker pool settings.
func (c Config) PoolConfig(l log.Logger, r pool.Recorder) pool.Config {
	mode, _ := pool.ParseMode(c.Pool.Mode)
	return pool.Config{MaxWorkers: c.Pool.Workers, Mode: mode, Logger: l, Recorder: r}
}

// QueueOptions returns the task queue settings.
func (c Config) QueueOptions(l log.Logger, r pool.Recorder) taskqueue.Options {
	pc := c.PoolConfig(l, r)
	return taskqueue.Options{
		Workers:      pc.MaxWorkers,
		Mode:         pc.Mode,
		PollInterval: c.Queue.PollInterval.D(),
		StopTimeout:  c.Queue.StopTimeout.D(),
		Logger:       l,
		Recorder:     r,
	}
}
