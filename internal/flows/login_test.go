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

type fakeAPI struct {
	login     func(identifier, secret string) (*authapi.LoginOutcome, error)
	verify    func(tempToken, code string) (*authapi.Session, error)
	loginHits int
}

func (a *fakeAPI) Login(_ context.Context, identifier, secret string) (*authapi.LoginOutcome, error) {
	a.loginHits++
	return a.login(identifier, secret)
}

func (a *fakeAPI) VerifyTwoFactor(_ context.Context, tempToken, code string) (*authapi.Session, error) {
	return a.verify(tempToken, code)
}

func TestRunLoginStoresSession(t *testing.T) {
	f := newFixture()
	api := &fakeAPI{login: func(id, secret string) (*authapi.LoginOutcome, error) {
		s := f.session("a1", "r1", time.Hour)
		s.User = &vault.UserSnapshot{ID: "u1", Username: id}
		return &authapi.LoginOutcome{Session: s, Message: "Welcome"}, nil
	}}

	res := RunLogin(context.Background(), "ann", "pw", LoginDeps{Vault: f.vault, Limiter: f.limiter, API: api})
	if res.Failure != LoginFailureNone || res.Record == nil || res.Challenge != nil {
		t.Fatalf("result = %+v", res)
	}
	rec, ok := f.vault.Read(context.Background())
	if !ok || rec.User.Username != "ann" || rec.Credentials.AccessToken != "a1" {
		t.Fatalf("stored = %+v", rec)
	}
	if c := f.notifier.causes(); len(c) != 1 || c[0] != vault.CauseLogin {
		t.Fatalf("causes = %v", c)
	}
}

func TestRunLoginChallengeLeavesVaultEmpty(t *testing.T) {
	f := newFixture()
	api := &fakeAPI{login: func(string, string) (*authapi.LoginOutcome, error) {
		return &authapi.LoginOutcome{Challenge: &authapi.Challenge{TempToken: "tmp", Method: "totp"}}, nil
	}}
	res := RunLogin(context.Background(), "ann", "pw", LoginDeps{Vault: f.vault, Limiter: f.limiter, API: api})
	if res.Challenge == nil || res.Challenge.TempToken != "tmp" || res.Record != nil {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := f.vault.Read(context.Background()); ok {
		t.Fatal("challenge must not store a session")
	}
}

func TestRunLoginFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want LoginFailureKind
	}{
		{"rejected", &authapi.StatusError{Status: http.StatusUnauthorized, Message: "Invalid credentials"}, LoginFailureRejected},
		{"network", fmt.Errorf("%w: refused", transport.ErrNetwork), LoginFailureNetwork},
		{"malformed", authapi.ErrMalformed, LoginFailureMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			api := &fakeAPI{login: func(string, string) (*authapi.LoginOutcome, error) { return nil, tc.err }}
			res := RunLogin(context.Background(), "ann", "pw", LoginDeps{Vault: f.vault, Limiter: f.limiter, API: api})
			if res.Failure != tc.want || !errors.Is(res.Err, tc.err) {
				t.Fatalf("result = %+v", res)
			}
		})
	}
}

func TestRunLoginRateLimited(t *testing.T) {
	f := newFixture()
	api := &fakeAPI{login: func(string, string) (*authapi.LoginOutcome, error) {
		return nil, &authapi.StatusError{Status: http.StatusUnauthorized}
	}}
	deps := LoginDeps{Vault: f.vault, Limiter: f.limiter, API: api}
	for i := 0; i < 5; i++ {
		RunLogin(context.Background(), "ann", "bad", deps)
	}
	res := RunLogin(context.Background(), "ann", "bad", deps)
	if res.Failure != LoginFailureRateLimited || !errors.Is(res.Err, rate.ErrRateLimited) {
		t.Fatalf("result = %+v", res)
	}
	if api.loginHits != 5 {
		t.Fatalf("login hits = %d", api.loginHits)
	}
}

func TestRunVerifyTwoFactor(t *testing.T) {
	f := newFixture()
	api := &fakeAPI{verify: func(tmp, code string) (*authapi.Session, error) {
		switch code {
		case "123456":
			s := f.session("a1", "r1", time.Hour)
			s.User = &vault.UserSnapshot{ID: "u1"}
			return s, nil
		case "expired":
			return nil, &authapi.StatusError{Status: http.StatusUnauthorized, Expired: true}
		default:
			return nil, &authapi.StatusError{Status: http.StatusUnauthorized, Message: "Invalid code"}
		}
	}}
	deps := LoginDeps{Vault: f.vault, Limiter: f.limiter, API: api}

	if res := RunVerifyTwoFactor(context.Background(), "tmp", "000000", deps); res.Failure != LoginFailureRejected || res.Message != "Invalid code" {
		t.Fatalf("wrong code = %+v", res)
	}
	if res := RunVerifyTwoFactor(context.Background(), "tmp", "expired", deps); res.Failure != LoginFailureChallengeExpired {
		t.Fatalf("expired = %+v", res)
	}
	if _, ok := f.vault.Read(context.Background()); ok {
		t.Fatal("failed verification stored a session")
	}
	if res := RunVerifyTwoFactor(context.Background(), "tmp", "123456", deps); res.Failure != LoginFailureNone || res.Record == nil {
		t.Fatalf("good code = %+v", res)
	}
}

func TestRunLoginCookieOnlySession(t *testing.T) {
	f := newFixture()
	api := &fakeAPI{login: func(string, string) (*authapi.LoginOutcome, error) {
		return &authapi.LoginOutcome{Session: &authapi.Session{CookieOnly: true, User: &vault.UserSnapshot{ID: "u1"}}}, nil
	}}
	res := RunLogin(context.Background(), "ann", "pw", LoginDeps{Vault: f.vault, API: api})
	if res.Failure != LoginFailureNone {
		t.Fatalf("result = %+v", res)
	}
	rec, ok := f.vault.Read(context.Background())
	if !ok || rec.Credentials.HasAccess() || rec.User.ID != "u1" {
		t.Fatalf("stored = %+v", rec)
	}
}
