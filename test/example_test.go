package test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/broadcast/redisbus"
	"github.com/MrEthical07/goSession/storage/redisstore"
)

// ExampleNew builds a tab whose vault and broadcast channel live in Redis, so
// every process of the application agrees on the session.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	cfg := goSession.DefaultConfig()
	cfg.API.BaseURL = "https://auth.example.com"
	cfg.Idle.Budget = 20 * time.Minute

	m, err := goSession.New().
		WithConfig(cfg).
		WithStorage(redisstore.New(rdb, "shop", 0)).
		WithBroadcastTransport(redisbus.New(rdb, redisbus.Options{Channel: "shop.tabs"})).
		WithIdleWarning(func(remaining time.Duration) goSession.IdleDecision {
			return goSession.IdleWait
		}).
		Build()
	if err != nil {
		return
	}
	defer m.Close()
	_ = m.Start(context.Background())
}

// ExampleManager_Login shows the two-step sign-in.
func ExampleManager_Login() {
	var m *goSession.Manager
	ctx := context.Background()

	res, err := m.Login(ctx, "alice@example.com", "password")
	if errors.Is(err, goSession.ErrInvalidCredentials) {
		return
	}
	if err == nil && res.RequiresTwoFactor {
		_, err = m.SubmitTwoFactorChallenge(ctx, res.TempToken, "123456")
	}
	_ = err
}

// ExampleManager_ExecuteAuthenticated sends a request with the session's token.
func ExampleManager_ExecuteAuthenticated() {
	var m *goSession.Manager
	resp, err := m.ExecuteAuthenticated(context.Background(), &goSession.Request{
		Method: http.MethodGet,
		URL:    "/api/orders",
	})
	var ue *goSession.UpstreamError
	switch {
	case errors.Is(err, goSession.ErrAuthRequired):
		// Show the sign-in screen.
	case errors.As(err, &ue):
		fmt.Println(ue.Status)
	case err == nil:
		fmt.Println(resp.Status)
	}
}

// ExampleManager_SubscribeToSessionChanges reacts to sign-outs from any tab.
func ExampleManager_SubscribeToSessionChanges() {
	var m *goSession.Manager
	unsubscribe := m.SubscribeToSessionChanges(func(c goSession.SessionChange) {
		if c.Kind == goSession.ChangeLogout {
			fmt.Println("signed out:", c.Reason)
		}
	})
	defer unsubscribe()
}
