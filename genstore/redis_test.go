package genstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedis(RedisConfig{Client: client, Namespace: "app", TTL: ttl, CloseClient: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, mr
}

func TestRedisBumpAndSnapshot(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, 0)

	g, err := s.Snapshot(ctx, "k")
	require.NoError(t, err)
	require.Zero(t, g)

	g, err = s.Bump(ctx, "k")
	require.NoError(t, err)
	require.EqualValues(t, 1, g)
	require.True(t, mr.Exists("gen:app:k"))

	got, err := s.SnapshotMany(ctx, []string{"k", "missing"})
	require.NoError(t, err)
	require.Equal(t, map[string]uint64{"k": 1, "missing": 0}, got)
}

func TestRedisBumpWithTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, time.Minute)

	_, err := s.Bump(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, time.Minute, mr.TTL("gen:app:k"))

	mr.FastForward(2 * time.Minute)
	g, err := s.Snapshot(ctx, "k")
	require.NoError(t, err)
	require.Zero(t, g)
}

func TestRedisSnapshotRejectsGarbage(t *testing.T) {
	s, mr := newRedisStore(t, 0)
	require.NoError(t, mr.Set("gen:app:k", "nope"))
	_, err := s.Snapshot(context.Background(), "k")
	require.Error(t, err)
}

func TestNewRedisNilClient(t *testing.T) {
	_, err := NewRedis(RedisConfig{})
	require.Error(t, err)
}
