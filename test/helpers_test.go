//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/broadcast/redisbus"
	"github.com/MrEthical07/goSession/internal/authtest"
	"github.com/MrEthical07/goSession/storage/redisstore"
)

// redisMode describes which Redis backend the suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the Redis backends to test. miniredis is always
// available; a real server is added when REDIS_ADDR is set.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				if err := rdb.Ping(context.Background()).Err(); err != nil {
					t.Skipf("redis at %s unreachable: %v", addr, err)
				}
				_ = rdb.FlushDB(context.Background()).Err()
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}
	return modes
}

func newServer(t *testing.T) *authtest.Server {
	t.Helper()
	srv, err := authtest.New(authtest.Options{})
	if err != nil {
		t.Fatalf("authtest: %v", err)
	}
	srv.AddAccount(authtest.Account{ID: "u1", Username: "ann", Email: "ann@example.com", Password: "pw"})
	return srv
}

// newTab starts a manager that shares rdb with every other tab of the test.
func newTab(t *testing.T, rdb redis.UniversalClient, srv *authtest.Server, id string) *goSession.Manager {
	t.Helper()
	bus := redisbus.New(rdb, redisbus.Options{Channel: "it.tabs"})
	m, err := goSession.New().
		WithTransport(srv).
		WithStorage(redisstore.New(rdb, "it", 0)).
		WithBroadcastTransport(bus).
		WithTabID(id).
		Build()
	if err != nil {
		t.Fatalf("build %s: %v", id, err)
	}
	t.Cleanup(func() {
		m.Close()
		_ = bus.Close()
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start %s: %v", id, err)
	}
	return m
}

func waitState(t *testing.T, m *goSession.Manager, want goSession.SessionState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tab %s: state %s, want %s", m.TabID(), m.State(), want)
}
