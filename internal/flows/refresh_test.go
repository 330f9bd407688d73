package flows

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/internal/authapi"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/transport"
	"github.com/MrEthical07/goSession/vault"
)

func TestRunRefreshRotatesAndKeepsUser(t *testing.T) {
	f := newFixture()
	f.seed("a1", "r1", time.Minute)

	var sent []string
	res := RunRefresh(context.Background(), RefreshDeps{
		Vault:   f.vault,
		Limiter: f.limiter,
		Exchange: func(_ context.Context, refresh string) (*authapi.Session, error) {
			sent = append(sent, refresh)
			return f.session("a2", "", time.Hour), nil
		},
	})
	if !res.OK() {
		t.Fatalf("refresh failed: %+v", res)
	}
	if len(sent) != 1 || sent[0] != "r1" {
		t.Fatalf("sent = %v", sent)
	}
	rec, ok := f.vault.Read(context.Background())
	if !ok || rec.Credentials.AccessToken != "a2" || rec.Credentials.RefreshToken != "r1" {
		t.Fatalf("stored = %+v", rec.Credentials)
	}
	if rec.User == nil || rec.User.ID != "u1" {
		t.Fatalf("user lost: %+v", rec.User)
	}
	if got := f.notifier.causes(); len(got) != 1 || got[0] != vault.CauseRefresh {
		t.Fatalf("causes = %v", got)
	}
}

func TestRunRefreshRateLimitedWithoutNetwork(t *testing.T) {
	f := newFixture()
	f.seed("a1", "r1", time.Minute)

	calls := 0
	deps := RefreshDeps{
		Vault:   f.vault,
		Limiter: f.limiter,
		Exchange: func(context.Context, string) (*authapi.Session, error) {
			calls++
			return f.session(fmt.Sprintf("a%d", calls+1), "r1", time.Hour), nil
		},
	}
	for i := 0; i < 3; i++ {
		if res := RunRefresh(context.Background(), deps); !res.OK() {
			t.Fatalf("refresh %d failed: %+v", i+1, res)
		}
		f.clock.Advance(3 * time.Second)
	}

	res := RunRefresh(context.Background(), deps)
	if res.Failure != RefreshFailureRateLimited || !errors.Is(res.Err, rate.ErrRateLimited) {
		t.Fatalf("fourth refresh = %+v", res)
	}
	if calls != 3 {
		t.Fatalf("network calls = %d, want 3", calls)
	}
	if _, ok := f.vault.Read(context.Background()); !ok {
		t.Fatal("rate limiting must not clear the vault")
	}
}

func TestRunRefreshDropsResultAfterClear(t *testing.T) {
	f := newFixture()
	f.seed("a1", "r1", time.Minute)
	fence := &Fence{}
	fenced := Fenced(f.vault, fence)

	var revoked []vault.Record
	res := RunRefresh(context.Background(), RefreshDeps{
		Vault:   fenced,
		Limiter: f.limiter,
		Fence:   fence,
		Exchange: func(ctx context.Context, _ string) (*authapi.Session, error) {
			// A logout lands while the exchange is in flight.
			if err := fenced.Clear(ctx, vault.CauseLogout); err != nil {
				t.Fatalf("clear: %v", err)
			}
			return f.session("a2", "r2", time.Hour), nil
		},
		Revoke: func(_ context.Context, rec vault.Record) error {
			revoked = append(revoked, rec)
			return nil
		},
	})
	if res.Failure != RefreshFailureSuperseded {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := f.vault.Read(context.Background()); ok {
		t.Fatal("refresh wrote the vault after the clear")
	}
	if len(revoked) != 1 || revoked[0].Credentials.RefreshToken != "r2" {
		t.Fatalf("revoked = %+v", revoked)
	}
	if got := f.notifier.causes(); len(got) != 1 || got[0] != vault.CauseLogout {
		t.Fatalf("causes = %v", got)
	}
}

func TestRunRefreshDenialAfterClearKeepsQuiet(t *testing.T) {
	f := newFixture()
	f.seed("a1", "r1", time.Minute)
	fence := &Fence{}

	res := RunRefresh(context.Background(), RefreshDeps{
		Vault:   Fenced(f.vault, fence),
		Limiter: f.limiter,
		Fence:   fence,
		Exchange: func(context.Context, string) (*authapi.Session, error) {
			fence.Bump()
			return nil, &authapi.StatusError{Status: http.StatusUnauthorized}
		},
	})
	if res.Failure != RefreshFailureSuperseded || res.Cleared {
		t.Fatalf("result = %+v", res)
	}
	if got := f.notifier.causes(); len(got) != 0 {
		t.Fatalf("causes = %v", got)
	}
}

func TestFenceCommit(t *testing.T) {
	var fence Fence
	epoch := fence.Epoch()
	ran := false
	ok, err := fence.Commit(epoch, func() error { ran = true; return nil })
	if !ok || err != nil || !ran {
		t.Fatalf("commit in current epoch: ok=%v err=%v ran=%v", ok, err, ran)
	}

	fence.Bump()
	ran = false
	ok, _ = fence.Commit(epoch, func() error { ran = true; return nil })
	if ok || ran {
		t.Fatal("commit from an ended epoch ran")
	}

	var nilFence *Fence
	if ok, _ := nilFence.Commit(7, func() error { return nil }); !ok {
		t.Fatal("nil fence must admit commits")
	}
}

func TestRunRefreshFailures(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		want    RefreshFailureKind
		cleared bool
	}{
		{"denied", &authapi.StatusError{Status: http.StatusUnauthorized}, RefreshFailureDenied, true},
		{"server error", &authapi.StatusError{Status: http.StatusInternalServerError}, RefreshFailureDenied, true},
		{"network", fmt.Errorf("%w: dial tcp: refused", transport.ErrNetwork), RefreshFailureNetwork, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.seed("a1", "r1", time.Minute)
			res := RunRefresh(context.Background(), RefreshDeps{
				Vault:   f.vault,
				Limiter: f.limiter,
				Exchange: func(context.Context, string) (*authapi.Session, error) {
					return nil, tc.err
				},
			})
			if res.Failure != tc.want || res.Cleared != tc.cleared {
				t.Fatalf("result = %+v", res)
			}
			_, ok := f.vault.Read(context.Background())
			if ok == tc.cleared {
				t.Fatalf("vault present = %v, cleared = %v", ok, tc.cleared)
			}
		})
	}
}

func TestRunRefreshNoToken(t *testing.T) {
	f := newFixture()
	f.seed("a1", "", time.Minute)
	res := RunRefresh(context.Background(), RefreshDeps{
		Vault:   f.vault,
		Limiter: f.limiter,
		Exchange: func(context.Context, string) (*authapi.Session, error) {
			t.Fatal("exchange must not run")
			return nil, nil
		},
	})
	if res.Failure != RefreshFailureNoToken {
		t.Fatalf("result = %+v", res)
	}
	if f.limiter.Remaining(rate.ClassRefresh) != 3 {
		t.Fatal("no-token refresh consumed the budget")
	}
}

func TestRunRefreshCookieSession(t *testing.T) {
	f := newFixture()
	if err := f.vault.Store(context.Background(), vault.Record{User: &vault.UserSnapshot{ID: "u1"}}, vault.CauseSync); err != nil {
		t.Fatalf("store: %v", err)
	}
	got := "unset"
	res := RunRefresh(context.Background(), RefreshDeps{
		Vault:   f.vault,
		Limiter: f.limiter,
		Exchange: func(_ context.Context, refresh string) (*authapi.Session, error) {
			got = refresh
			return &authapi.Session{CookieOnly: true, User: &vault.UserSnapshot{ID: "u1", Username: "new"}}, nil
		},
	})
	if !res.OK() || got != "" {
		t.Fatalf("result = %+v, sent %q", res, got)
	}
	if res.Record.User.Username != "new" || res.Record.Credentials.HasAccess() {
		t.Fatalf("record = %+v", res.Record)
	}
}
