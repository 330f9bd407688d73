package flows

import (
	"context"

	"github.com/MrEthical07/goSession/vault"
)

// LogoutDeps captures logout dependencies. NotifyServer and PurgeCache are
// optional best-effort collaborators.
type LogoutDeps struct {
	Vault        SessionVault
	Cause        vault.Cause
	NotifyServer func(ctx context.Context, rec vault.Record) error
	PurgeCache   func(ctx context.Context) error
	Warn         func(string, ...any)
}

// LogoutResult reports what the logout found and which best-effort steps
// failed. It never carries a fatal error.
type LogoutResult struct {
	Previous   vault.Record
	HadSession bool
	ClearErr   error
	ServerErr  error
	PurgeErr   error
}

// RunLogout clears local credentials first so the tab reaches its terminal
// state even when the server or cache is unreachable.
func RunLogout(ctx context.Context, deps LogoutDeps) LogoutResult {
	var res LogoutResult
	res.Previous, res.HadSession = deps.Vault.Read(ctx)

	if err := deps.Vault.Clear(ctx, deps.Cause); err != nil {
		res.ClearErr = err
		warn(deps.Warn, "goSession: vault clear on logout failed", err)
	}

	if res.HadSession && deps.NotifyServer != nil {
		if err := deps.NotifyServer(ctx, res.Previous); err != nil {
			res.ServerErr = err
			warn(deps.Warn, "goSession: server logout failed", err)
		}
	}

	if deps.PurgeCache != nil {
		if err := deps.PurgeCache(ctx); err != nil {
			res.PurgeErr = err
			warn(deps.Warn, "goSession: cache purge failed", err)
		}
	}
	return res
}

func warn(fn func(string, ...any), msg string, err error) {
	if fn != nil {
		fn(msg, "err", err)
	}
}
