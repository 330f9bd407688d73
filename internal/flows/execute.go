package flows

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/transport"
	"github.com/MrEthical07/goSession/vault"
)

// ExecuteFailureKind classifies executor failures for root-level mapping.
type ExecuteFailureKind int

const (
	ExecuteFailureNone ExecuteFailureKind = iota
	ExecuteFailureRateLimited
	ExecuteFailureAuthRequired
	ExecuteFailureNetwork
	// ExecuteFailureUpstream is a non-2xx final response.
	ExecuteFailureUpstream
	// ExecuteFailureNotReplayed is a 401 on a request that was not safe to
	// reissue. The refresh still ran.
	ExecuteFailureNotReplayed
	// ExecuteFailureSessionInvalid is a 401 whose refresh was refused; the
	// session has been cleared.
	ExecuteFailureSessionInvalid
)

// ExecuteResult is the outcome of one authenticated request.
type ExecuteResult struct {
	Failure  ExecuteFailureKind
	Err      error
	Response *transport.Response
	// Refresh is the failure kind of the last refresh attempted, if any.
	Refresh RefreshFailureKind
	// Proactive and Reactive count the refreshes attempted before sending
	// and after a 401 (each at most one).
	Proactive int
	Reactive  int
	Retried   bool
}

// ExecuteDeps captures executor dependencies.
type ExecuteDeps struct {
	Vault   SessionVault
	Limiter Limiter
	// Refresh runs (or joins) one refresh.
	Refresh func(ctx context.Context) RefreshResult
	Send    func(ctx context.Context, req *transport.Request) (*transport.Response, error)
	Now     func() time.Time
	// RefreshThreshold is how close to expiry a token is refreshed before use.
	RefreshThreshold time.Duration
	// ReplaySafe marks the request as safe to reissue whatever its method.
	ReplaySafe bool
	Warn       func(string, ...any)
}

// RunExecute sends req with the session's access token.
//
// The request is sent at most twice: once, and once more after a 401 that a
// refresh cured, provided the request is idempotent or marked replay-safe.
func RunExecute(ctx context.Context, req *transport.Request, deps ExecuteDeps) ExecuteResult {
	var res ExecuteResult

	if deps.Limiter != nil && !deps.Limiter.TryConsume(rate.ClassAPI) {
		res.Failure = ExecuteFailureRateLimited
		res.Err = rate.ErrRateLimited
		return res
	}

	rec, ok := deps.Vault.Read(ctx)
	if !ok {
		res.Failure = ExecuteFailureAuthRequired
		return res
	}
	cookie := isCookieSession(rec)
	if !rec.Credentials.HasAccess() && !cookie {
		res.Failure = ExecuteFailureAuthRequired
		return res
	}

	if !cookie && rec.Credentials.ExpiresWithin(deps.Now(), deps.RefreshThreshold) {
		r := deps.Refresh(ctx)
		res.Proactive++
		res.Refresh = r.Failure
		switch {
		case r.OK():
			rec = r.Record
		case r.Failure == RefreshFailureSuperseded:
			res.Failure = ExecuteFailureAuthRequired
			return res
		case r.Failure == RefreshFailureDenied || rec.Credentials.Expired(deps.Now()):
			// An expired token with nothing to refresh it is a dead session.
			if r.Failure == RefreshFailureNoToken {
				if err := deps.Vault.Clear(ctx, vault.CauseInvalid); err != nil && deps.Warn != nil {
					deps.Warn("goSession: vault clear of expired session failed", "err", err)
				}
			}
			res.Failure = ExecuteFailureAuthRequired
			res.Err = r.Err
			return res
		}
	}

	resp, err := deps.Send(ctx, authorize(req, rec))
	if err != nil {
		res.Failure = ExecuteFailureNetwork
		res.Err = err
		return res
	}
	if resp.Status != http.StatusUnauthorized {
		return finish(res, resp)
	}

	r := deps.Refresh(ctx)
	res.Reactive++
	res.Refresh = r.Failure
	switch r.Failure {
	case RefreshFailureNone:
	case RefreshFailureRateLimited:
		res.Failure = ExecuteFailureRateLimited
		res.Err = r.Err
		res.Response = resp
		return res
	case RefreshFailureNetwork:
		res.Failure = ExecuteFailureNetwork
		res.Err = r.Err
		return res
	case RefreshFailureSuperseded:
		res.Failure = ExecuteFailureAuthRequired
		return res
	default:
		if !r.Cleared {
			if err := deps.Vault.Clear(ctx, vault.CauseInvalid); err != nil && deps.Warn != nil {
				deps.Warn("goSession: vault clear after rejected request failed", "err", err)
			}
		}
		res.Failure = ExecuteFailureSessionInvalid
		res.Err = r.Err
		return res
	}

	if !deps.ReplaySafe && !req.Idempotent() {
		res.Failure = ExecuteFailureNotReplayed
		res.Response = resp
		return res
	}

	retry, err := deps.Send(ctx, authorize(req, r.Record))
	res.Retried = true
	if err != nil {
		res.Failure = ExecuteFailureNetwork
		res.Err = err
		return res
	}
	return finish(res, retry)
}

func finish(res ExecuteResult, resp *transport.Response) ExecuteResult {
	res.Response = resp
	if !resp.OK() {
		res.Failure = ExecuteFailureUpstream
	}
	return res
}

// authorize returns a copy of req carrying the record's bearer token. Cookie
// sessions are sent without one.
func authorize(req *transport.Request, rec vault.Record) *transport.Request {
	out := req.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Header.Del("Authorization")
	if rec.Credentials.HasAccess() {
		out.Header.Set("Authorization", "Bearer "+rec.Credentials.AccessToken)
	}
	return out
}
