//go:build integration
// +build integration

package test

import (
	"context"
	"net/http"
	"testing"

	goSession "github.com/MrEthical07/goSession"
)

func TestTabsShareSessionOverRedis(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()
			srv := newServer(t)
			ctx := context.Background()

			a := newTab(t, rdb, srv, "tab-a")
			b := newTab(t, rdb, srv, "tab-b")

			if _, err := a.Login(ctx, "ann", "pw"); err != nil {
				t.Fatalf("login: %v", err)
			}
			waitState(t, b, goSession.StateAuthenticated)
			if u := b.AuthenticatedSnapshot(); u == nil || u.ID != "u1" {
				t.Fatalf("tab-b user = %+v", u)
			}

			resp, err := b.ExecuteAuthenticated(ctx, &goSession.Request{Method: http.MethodGet, URL: "/api/orders"})
			if err != nil {
				t.Fatalf("execute from tab-b: %v", err)
			}
			if resp.Status != http.StatusOK {
				t.Fatalf("status = %d", resp.Status)
			}

			a.Logout(ctx, goSession.ReasonExplicit)
			waitState(t, b, goSession.StateUnauthenticated)
		})
	}
}

func TestNewTabRestoresFromRedisVault(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()
			srv := newServer(t)

			a := newTab(t, rdb, srv, "tab-a")
			if _, err := a.Login(context.Background(), "ann", "pw"); err != nil {
				t.Fatalf("login: %v", err)
			}

			late := newTab(t, rdb, srv, "tab-late")
			if late.State() != goSession.StateAuthenticated {
				t.Fatalf("late tab state = %s", late.State())
			}
		})
	}
}

func TestRefreshDenialSignsOutEveryTab(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()
			srv := newServer(t)
			ctx := context.Background()

			a := newTab(t, rdb, srv, "tab-a")
			b := newTab(t, rdb, srv, "tab-b")
			if _, err := a.Login(ctx, "ann", "pw"); err != nil {
				t.Fatalf("login: %v", err)
			}
			waitState(t, b, goSession.StateAuthenticated)

			srv.RevokeAll()
			srv.RevokeAccess()
			if _, err := a.ExecuteAuthenticated(ctx, &goSession.Request{Method: http.MethodGet, URL: "/api/orders"}); err == nil {
				t.Fatal("expected auth error after revocation")
			}
			waitState(t, a, goSession.StateUnauthenticated)
			waitState(t, b, goSession.StateUnauthenticated)
		})
	}
}
