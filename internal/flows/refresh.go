package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/internal/authapi"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/transport"
	"github.com/MrEthical07/goSession/vault"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNoToken
	RefreshFailureRateLimited
	RefreshFailureNetwork
	RefreshFailureDenied
	RefreshFailureStore
	// RefreshFailureSuperseded means the session was cleared while the
	// exchange was in flight. The new tokens are discarded.
	RefreshFailureSuperseded
)

// RefreshResult carries either the stored record or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	// Record is the record after a successful refresh.
	Record vault.Record
	// Cleared is set when the failure removed the session from the vault.
	Cleared bool
}

// OK reports success.
func (r RefreshResult) OK() bool { return r.Failure == RefreshFailureNone }

// Limiter is the per-tab rate limiter.
type Limiter interface {
	TryConsume(class rate.Class) bool
}

// SessionVault is the vault surface flows use.
type SessionVault interface {
	Read(ctx context.Context) (vault.Record, bool)
	Store(ctx context.Context, rec vault.Record, cause vault.Cause) error
	Clear(ctx context.Context, cause vault.Cause) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Vault    SessionVault
	Limiter  Limiter
	Exchange func(ctx context.Context, refreshToken string) (*authapi.Session, error)
	// Fence drops results for a session that was cleared mid-exchange.
	Fence *Fence
	// Revoke tells the server to end a session whose tokens were dropped.
	// Optional; failures are only logged.
	Revoke func(ctx context.Context, rec vault.Record) error
	Warn   func(string, ...any)
}

// RunRefresh exchanges the stored refresh token once. It never retries.
//
// A session restored from a server cookie has no refresh token and is
// refreshed through the cookie. Only a server rejection clears the vault;
// network failures and local throttling leave it untouched.
func RunRefresh(ctx context.Context, deps RefreshDeps) RefreshResult {
	epoch := deps.Fence.Epoch()
	rec, ok := deps.Vault.Read(ctx)
	if !ok {
		return RefreshResult{Failure: RefreshFailureNoToken}
	}
	cookie := isCookieSession(rec)
	if !rec.Credentials.HasRefresh() && !cookie {
		return RefreshResult{Failure: RefreshFailureNoToken}
	}

	if deps.Limiter != nil && !deps.Limiter.TryConsume(rate.ClassRefresh) {
		return RefreshResult{Failure: RefreshFailureRateLimited, Err: rate.ErrRateLimited}
	}

	sess, err := deps.Exchange(ctx, rec.Credentials.RefreshToken)
	if err != nil {
		if errors.Is(err, transport.ErrNetwork) {
			return RefreshResult{Failure: RefreshFailureNetwork, Err: err}
		}
		if deps.Fence.Epoch() != epoch {
			return RefreshResult{Failure: RefreshFailureSuperseded, Err: err}
		}
		return deny(ctx, deps, err)
	}

	next := vault.Record{
		Credentials: sess.Credentials,
		User:        sess.User,
	}
	if sess.CookieOnly {
		if !cookie {
			return deny(ctx, deps, authapi.ErrMalformed)
		}
		next.Credentials = vault.CredentialSet{}
	}
	if next.Credentials.HasAccess() && !next.Credentials.HasRefresh() {
		next.Credentials.RefreshToken = rec.Credentials.RefreshToken
	}
	if next.User == nil {
		next.User = rec.User
	}

	committed, err := deps.Fence.Commit(epoch, func() error {
		return deps.Vault.Store(ctx, next, vault.CauseRefresh)
	})
	if !committed {
		revoke(ctx, deps, next)
		return RefreshResult{Failure: RefreshFailureSuperseded}
	}
	if err != nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: err}
	}
	return RefreshResult{Record: next}
}

func revoke(ctx context.Context, deps RefreshDeps, rec vault.Record) {
	if deps.Revoke == nil || (!rec.Credentials.HasAccess() && !rec.Credentials.HasRefresh()) {
		return
	}
	if err := deps.Revoke(ctx, rec); err != nil && deps.Warn != nil {
		deps.Warn("goSession: revoking superseded refresh failed", "err", err)
	}
}

func deny(ctx context.Context, deps RefreshDeps, cause error) RefreshResult {
	res := RefreshResult{Failure: RefreshFailureDenied, Err: cause}
	if err := deps.Vault.Clear(ctx, vault.CauseInvalid); err != nil {
		if deps.Warn != nil {
			deps.Warn("goSession: vault clear after refresh denial failed", "err", err)
		}
		return res
	}
	res.Cleared = true
	return res
}

// isCookieSession reports a record the server tracks by cookie: a user
// without bearer credentials.
func isCookieSession(rec vault.Record) bool {
	return rec.User != nil && !rec.Credentials.HasAccess() && !rec.Credentials.HasRefresh()
}
