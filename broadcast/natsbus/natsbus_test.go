package natsbus

import (
	"context"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goSession/broadcast"
)

func newBus(t *testing.T, url string) *Bus {
	t.Helper()
	b, err := Connect(url, "", nil, nats.Timeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestConnectUnreachable(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "", nil, nats.Timeout(200*time.Millisecond))
	require.Error(t, err)
}

func TestClosedBusRejectsUse(t *testing.T) {
	b := New(nil, "", nil)
	require.Equal(t, defaultSubject, b.subject)
	require.NotNil(t, b.logger)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	ctx := context.Background()
	require.ErrorIs(t, b.Publish(ctx, broadcast.Message{ID: "1"}), broadcast.ErrClosed)
	_, err := b.Subscribe(ctx, func(broadcast.Message) {})
	require.ErrorIs(t, err, broadcast.ErrClosed)
}

func TestBusCrossClientDelivery(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()
	ctx := context.Background()

	pub := broadcast.New(newBus(t, srv.ClientURL()), broadcast.Options{TabID: "tab-a"})
	sub := broadcast.New(newBus(t, srv.ClientURL()), broadcast.Options{TabID: "tab-b"})
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
	ownSeen := 0
	pub.Subscribe(func(broadcast.Message) {
		mu.Lock()
		ownSeen++
		mu.Unlock()
	})

	require.NoError(t, pub.Emit(ctx, broadcast.EventLogin, nil))
	require.NoError(t, pub.Emit(ctx, broadcast.EventLogout, broadcast.LogoutPayload{Reason: "explicit"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, []broadcast.Event{broadcast.EventLogin, broadcast.EventLogout}, got)
	require.Zero(t, ownSeen)
	mu.Unlock()
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()
	ctx := context.Background()
	bus := newBus(t, srv.ClientURL())

	var (
		mu  sync.Mutex
		got []string
	)
	cancel, err := bus.Subscribe(ctx, func(m broadcast.Message) {
		mu.Lock()
		got = append(got, m.ID)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, broadcast.Message{ID: "1", Origin: "o", Event: broadcast.EventLogin, AtMS: 1}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, bus.conn.Flush())
	require.NoError(t, bus.Publish(ctx, broadcast.Message{ID: "2", Origin: "o", Event: broadcast.EventLogin, AtMS: 2}))
	require.NoError(t, bus.conn.Flush())
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"1"}, got)
	mu.Unlock()
}
