package flows

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/internal/authapi"
	"github.com/MrEthical07/goSession/internal/clock"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/storage/memory"
	"github.com/MrEthical07/goSession/vault"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []vault.Change
}

func (n *recordingNotifier) VaultChanged(c vault.Change) {
	n.mu.Lock()
	n.changes = append(n.changes, c)
	n.mu.Unlock()
}

func (n *recordingNotifier) causes() []vault.Cause {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]vault.Cause, 0, len(n.changes))
	for _, c := range n.changes {
		out = append(out, c.Cause)
	}
	return out
}

type fixture struct {
	clock    *clock.Fake
	vault    *vault.Vault
	limiter  *rate.Limiter
	notifier *recordingNotifier
}

func newFixture() *fixture {
	clk := clock.NewFake(t0)
	n := &recordingNotifier{}
	return &fixture{
		clock:    clk,
		vault:    vault.New(memory.New(), vault.Options{Clock: clk, Notifier: n}),
		limiter:  rate.New(rate.Config{Window: time.Minute, Ceilings: map[rate.Class]int{rate.ClassRefresh: 3, rate.ClassAPI: 20, rate.ClassLogin: 5, rate.ClassTwoFactor: 5}}, clk),
		notifier: n,
	}
}

func (f *fixture) seed(access, refresh string, ttl time.Duration) {
	rec := vault.Record{
		Credentials: vault.CredentialSet{AccessToken: access, RefreshToken: refresh, ExpiresAt: f.clock.Now().Add(ttl)},
		User:        &vault.UserSnapshot{ID: "u1", Username: "ann"},
	}
	if err := f.vault.Store(context.Background(), rec, vault.CauseLogin); err != nil {
		panic(err)
	}
	f.notifier.mu.Lock()
	f.notifier.changes = nil
	f.notifier.mu.Unlock()
}

func (f *fixture) session(access, refresh string, ttl time.Duration) *authapi.Session {
	return &authapi.Session{
		Credentials: vault.CredentialSet{AccessToken: access, RefreshToken: refresh, ExpiresAt: f.clock.Now().Add(ttl)},
	}
}
