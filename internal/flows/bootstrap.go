package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/vault"
)

// BootstrapSource names where a starting session came from.
type BootstrapSource int

const (
	BootstrapNone BootstrapSource = iota
	BootstrapBroadcast
	BootstrapVault
	BootstrapServer
)

func (s BootstrapSource) String() string {
	switch s {
	case BootstrapBroadcast:
		return "broadcast"
	case BootstrapVault:
		return "vault"
	case BootstrapServer:
		return "server"
	default:
		return "none"
	}
}

// BootstrapResult is the session a tab starts with.
type BootstrapResult struct {
	Source BootstrapSource
	Record vault.Record
	// Err is the last lookup error. It never makes the bootstrap fail.
	Err error
	// Dropped is set when a dead vault record was removed on the way.
	Dropped bool
}

// BootstrapDeps captures bootstrap dependencies. FromBroadcast and FetchUser
// are optional.
type BootstrapDeps struct {
	Vault SessionVault
	// FromBroadcast returns the session another tab announced most recently.
	FromBroadcast func(ctx context.Context) (vault.Record, bool)
	// FetchUser asks the server for a cookie-backed session.
	FetchUser func(ctx context.Context) (*vault.UserSnapshot, error)
	Now       func() time.Time
	// Abort reports that another source already settled the tab. Bootstrap
	// checks it before every write.
	Abort func() bool
	Warn  func(string, ...any)
}

// RunBootstrap resolves the starting session: another tab's announcement, then
// the vault, then the server cookie. An announcement replaces the vault only
// when it is newer, so a tab that refreshed since never loses its rotated
// tokens. Lookup errors fall through to the next source; a network error
// never destroys a stored session.
func RunBootstrap(ctx context.Context, deps BootstrapDeps) BootstrapResult {
	var res BootstrapResult
	now := deps.Now()
	stored, haveStored := deps.Vault.Read(ctx)

	if deps.FromBroadcast != nil {
		if rec, ok := deps.FromBroadcast(ctx); ok && Usable(rec, now) && supersedes(rec, stored, haveStored, now) {
			if aborted(deps) {
				return res
			}
			if err := deps.Vault.Store(ctx, rec, vault.CauseSync); err != nil {
				res.Err = err
				warn(deps.Warn, "goSession: adopting announced session failed", err)
			} else {
				res.Source = BootstrapBroadcast
				res.Record = rec
				return res
			}
		}
	}

	if haveStored {
		if Usable(stored, now) {
			res.Source = BootstrapVault
			res.Record = stored
			return res
		}
		// Expired access token with no way to refresh it. The drop is
		// silent so the cookie lookup below still gets its turn.
		if aborted(deps) {
			return res
		}
		if err := deps.Vault.Clear(ctx, vault.CauseSync); err != nil {
			warn(deps.Warn, "goSession: vault clear of expired session failed", err)
		} else {
			res.Dropped = true
		}
	}

	if deps.FetchUser != nil {
		user, err := deps.FetchUser(ctx)
		if err != nil {
			res.Err = err
			return res
		}
		if user != nil {
			if aborted(deps) {
				return res
			}
			rec := vault.Record{User: user}
			if err := deps.Vault.Store(ctx, rec, vault.CauseSync); err != nil {
				res.Err = err
				warn(deps.Warn, "goSession: storing server session failed", err)
				return res
			}
			res.Source = BootstrapServer
			res.Record = rec
		}
	}
	return res
}

// supersedes reports whether an announced record should replace the stored
// one. Ties go to the vault.
func supersedes(announced, stored vault.Record, haveStored bool, now time.Time) bool {
	if !haveStored || !Usable(stored, now) {
		return true
	}
	return announced.StoredAt.After(stored.StoredAt)
}

func aborted(deps BootstrapDeps) bool {
	return deps.Abort != nil && deps.Abort()
}

// Usable reports a record that can still authorize a request, directly or
// after a refresh.
func Usable(rec vault.Record, now time.Time) bool {
	if isCookieSession(rec) {
		return true
	}
	if !rec.Credentials.HasAccess() {
		return false
	}
	return rec.Credentials.HasRefresh() || !rec.Credentials.Expired(now)
}
