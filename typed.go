package tiercache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/tiercache/codec"
)

// GetAs reads key and decodes it with cd. A value that does not decode is
// deleted from every tier and reported as a miss.
func GetAs[V any](ctx context.Context, c *Coordinator, cd codec.Codec[V], key string) (V, bool) {
	var zero V
	raw, ok := c.Get(ctx, key)
	if !ok {
		return zero, false
	}
	v, err := cd.Decode(raw)
	if err != nil {
		c.log.Warn("cached value does not decode, dropping", Fields{"key": key, "err": err})
		c.stats.selfHeals.Add(1)
		c.hooks.SelfHeal("all", key, "value_decode")
		_ = c.Delete(ctx, key)
		return zero, false
	}
	return v, true
}

// SetAs encodes v with cd and stores it under key.
func SetAs[V any](ctx context.Context, c *Coordinator, cd codec.Codec[V], key string, v V, ttl time.Duration) error {
	raw, err := cd.Encode(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}
