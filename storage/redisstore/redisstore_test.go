package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, "gs", ttl), mr, rdb
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newTestStore(t, 0)

	_, ok, err := s.Get(ctx, "record")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "record", `{"v":1}`))
	require.True(t, mr.Exists("gs:record"))

	v, ok, err := s.Get(ctx, "record")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"v":1}`, v)

	require.NoError(t, s.Remove(ctx, "record"))
	require.NoError(t, s.Remove(ctx, "record"))
	require.False(t, mr.Exists("gs:record"))
}

func TestStoreTTL(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newTestStore(t, time.Hour)

	require.NoError(t, s.Set(ctx, "record", "x"))
	require.Equal(t, time.Hour, mr.TTL("gs:record"))

	mr.FastForward(2 * time.Hour)
	_, ok, err := s.Get(ctx, "record")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreBackendDown(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newTestStore(t, 0)
	mr.Close()

	_, _, err := s.Get(ctx, "record")
	require.True(t, errors.Is(err, ErrRedisUnavailable))
	require.True(t, errors.Is(s.Set(ctx, "record", "x"), ErrRedisUnavailable))
}
