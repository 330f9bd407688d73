package redisbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goSession/broadcast"
)

func newBus(t *testing.T, mr *miniredis.Miniredis, opts Options) *Bus {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := New(rdb, opts)
	t.Cleanup(func() {
		_ = bus.Close()
		_ = rdb.Close()
	})
	return bus
}

func TestBusCrossClientDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	pub := broadcast.New(newBus(t, mr, Options{}), broadcast.Options{TabID: "tab-a"})
	sub := broadcast.New(newBus(t, mr, Options{}), broadcast.Options{TabID: "tab-b"})
	require.NoError(t, pub.Start(ctx))
	require.NoError(t, sub.Start(ctx))
	defer pub.Close()
	defer sub.Close()

	var (
		mu  sync.Mutex
		got []broadcast.Event
	)
	sub.Subscribe(func(m broadcast.Message) {
		mu.Lock()
		got = append(got, m.Event)
		mu.Unlock()
	})
	own := 0
	pub.Subscribe(func(broadcast.Message) { own++ })

	require.NoError(t, pub.Emit(ctx, broadcast.EventLogin, nil))
	require.NoError(t, pub.Emit(ctx, broadcast.EventLogout, broadcast.LogoutPayload{Reason: "explicit"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, []broadcast.Event{broadcast.EventLogin, broadcast.EventLogout}, got)
	mu.Unlock()
	require.Zero(t, own)
}

func TestBusRetainsLatest(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	bus := newBus(t, mr, Options{Channel: "app", RetainTTL: time.Minute})

	_, ok, err := bus.Latest(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, bus.Publish(ctx, broadcast.Message{ID: "1", Origin: "o", Event: broadcast.EventLogin, AtMS: 1}))
	require.True(t, mr.Exists("app:latest"))
	require.Equal(t, time.Minute, mr.TTL("app:latest"))

	msg, ok, err := bus.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", msg.ID)

	mr.FastForward(2 * time.Minute)
	_, ok, err = bus.Latest(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBusRetentionDisabled(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	bus := newBus(t, mr, Options{RetainTTL: -1})

	require.NoError(t, bus.Publish(ctx, broadcast.Message{ID: "1", Origin: "o", Event: broadcast.EventLogin}))
	require.False(t, mr.Exists(defaultChannel+":latest"))
	_, ok, err := bus.Latest(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBusClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	bus := newBus(t, mr, Options{})

	cancel, err := bus.Subscribe(ctx, func(broadcast.Message) {})
	require.NoError(t, err)
	require.NoError(t, bus.Close())
	cancel()

	require.ErrorIs(t, bus.Publish(ctx, broadcast.Message{ID: "1"}), broadcast.ErrClosed)
	_, err = bus.Subscribe(ctx, func(broadcast.Message) {})
	require.ErrorIs(t, err, broadcast.ErrClosed)
}
