package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, ns string) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	p, err := New(Config{Client: client, Namespace: ns, ScanCount: 2, CloseClient: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return mr, p
}

func TestRedisNilClient(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestRedisSetGetDel(t *testing.T) {
	ctx := context.Background()
	mr, p := newTestRedis(t, "app")

	_, found, err := p.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, p.Set(ctx, "k", []byte("v"), 0))
	v, ok, err := p.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))
	assert.True(t, mr.Exists("app:k"), "key should be namespaced")

	require.NoError(t, p.Del(ctx, "k"))
	_, ok, _ = p.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	mr, p := newTestRedis(t, "")

	require.NoError(t, p.Set(ctx, "k", []byte("v"), 2*time.Second))
	assert.Equal(t, 2*time.Second, mr.TTL("k"))

	mr.FastForward(3 * time.Second)
	_, ok, err := p.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisDeletePrefix(t *testing.T) {
	ctx := context.Background()
	mr, p := newTestRedis(t, "app")

	for _, k := range []string{"user:1", "user:2", "user:3", "order:1", "us*r:9"} {
		require.NoError(t, p.Set(ctx, k, []byte(k), 0))
	}
	require.NoError(t, mr.Set("foreign", "x"))

	require.NoError(t, p.DeletePrefix(ctx, "user:"))
	for _, k := range []string{"user:1", "user:2", "user:3"} {
		_, ok, _ := p.Get(ctx, k)
		assert.False(t, ok, k)
	}
	_, ok, _ := p.Get(ctx, "order:1")
	assert.True(t, ok)
	_, ok, _ = p.Get(ctx, "us*r:9")
	assert.True(t, ok, "glob characters in data keys must not match")

	// Namespaced clear leaves foreign keys alone.
	require.NoError(t, p.DeletePrefix(ctx, ""))
	_, ok, _ = p.Get(ctx, "order:1")
	assert.False(t, ok)
	assert.True(t, mr.Exists("foreign"))
}

func TestRedisFlushWithoutNamespace(t *testing.T) {
	ctx := context.Background()
	mr, p := newTestRedis(t, "")

	require.NoError(t, p.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, mr.Set("other", "x"))
	require.NoError(t, p.DeletePrefix(ctx, ""))
	assert.Empty(t, mr.Keys())
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, p := newTestRedis(t, "")
	mr.Close()

	_, ok, err := p.Get(ctx, "k")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, p.Set(ctx, "k", []byte("v"), 0))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, "plain:", escapeGlob("plain:"))
	assert.Equal(t, `a\*b\?c\[d\]e\\`, escapeGlob(`a*b?c[d]e\`))
}
