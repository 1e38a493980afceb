package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache/tier"
)

var ErrNilClient = errors.New("redis tier: nil client")

const defaultScanCount = 500

// Redis is the shared tier. Keys are stored under an optional namespace so
// several caches can share one database.
type Redis struct {
	rdb         goredis.UniversalClient
	namespace   string
	scanCount   int64
	closeClient bool

	// mu keeps DeletePrefix atomic w.r.t. this process's Get/Set.
	mu sync.RWMutex
}

var _ tier.Tier = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	Namespace   string // stored keys become "<Namespace>:<key>"; "" => raw keys
	ScanCount   int64  // SCAN batch hint; 0 => 500
	CloseClient bool   // set true only if this tier exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	sc := cfg.ScanCount
	if sc <= 0 {
		sc = defaultScanCount
	}
	return &Redis{
		rdb:         cfg.Client,
		namespace:   cfg.Namespace,
		scanCount:   sc,
		closeClient: cfg.CloseClient,
	}, nil
}

func (p *Redis) storageKey(key string) string {
	if p.namespace == "" {
		return key
	}
	return p.namespace + ":" + key
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, err := p.rdb.Get(ctx, p.storageKey(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

// Set issues SET with PX when ttl > 0 (the SETEX form), plain SET otherwise.
func (p *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if ttl < 0 {
		ttl = 0
	}
	return p.rdb.Set(ctx, p.storageKey(key), value, ttl).Err()
}

func (p *Redis) Del(ctx context.Context, key string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rdb.Del(ctx, p.storageKey(key)).Err()
}

// DeletePrefix scans for matching keys and deletes them in SCAN-sized batches.
// An empty prefix without a namespace flushes the whole database.
func (p *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prefix == "" && p.namespace == "" {
		return p.forEachNode(ctx, func(ctx context.Context, c goredis.Cmdable) error {
			return c.FlushDB(ctx).Err()
		})
	}
	pattern := escapeGlob(p.storageKey(prefix)) + "*"
	return p.forEachNode(ctx, func(ctx context.Context, c goredis.Cmdable) error {
		var cursor uint64
		for {
			keys, next, err := c.Scan(ctx, cursor, pattern, p.scanCount).Result()
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				if err := c.Del(ctx, keys...).Err(); err != nil {
					return err
				}
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
}

// forEachNode runs fn on every master of a cluster client, or once otherwise.
func (p *Redis) forEachNode(ctx context.Context, fn func(context.Context, goredis.Cmdable) error) error {
	if cc, ok := p.rdb.(*goredis.ClusterClient); ok {
		return cc.ForEachMaster(ctx, func(ctx context.Context, c *goredis.Client) error {
			return fn(ctx, c)
		})
	}
	return fn(ctx, p.rdb)
}

// Close releases the underlying redis client only when this tier owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
