package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/internal/authapi"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/transport"
	"github.com/MrEthical07/goSession/vault"
)

// LoginFailureKind classifies login and two-factor failures.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureRateLimited
	LoginFailureNetwork
	LoginFailureRejected
	LoginFailureChallengeExpired
	LoginFailureMalformed
	LoginFailureStore
)

// LoginResult is the flow-local login response shape. Exactly one of Record
// and Challenge is set on success.
type LoginResult struct {
	Failure   LoginFailureKind
	Err       error
	Record    *vault.Record
	Challenge *authapi.Challenge
	Message   string
	// Status is the server status of a rejection.
	Status int
}

// LoginDeps captures login and two-factor dependencies.
type LoginDeps struct {
	Vault   SessionVault
	Limiter Limiter
	API     interface {
		Login(ctx context.Context, identifier, secret string) (*authapi.LoginOutcome, error)
		VerifyTwoFactor(ctx context.Context, tempToken, code string) (*authapi.Session, error)
	}
}

// RunLogin authenticates with identifier and secret. A session is written to
// the vault with CauseLogin; a challenge leaves the vault untouched.
func RunLogin(ctx context.Context, identifier, secret string, deps LoginDeps) LoginResult {
	if deps.Limiter != nil && !deps.Limiter.TryConsume(rate.ClassLogin) {
		return LoginResult{Failure: LoginFailureRateLimited, Err: rate.ErrRateLimited}
	}

	out, err := deps.API.Login(ctx, identifier, secret)
	if err != nil {
		return classifyLoginError(err)
	}
	if out.Challenge != nil {
		return LoginResult{Challenge: out.Challenge, Message: out.Message}
	}
	res := storeSession(ctx, deps.Vault, out.Session)
	res.Message = out.Message
	return res
}

// RunVerifyTwoFactor submits a step-up code for tempToken.
func RunVerifyTwoFactor(ctx context.Context, tempToken, code string, deps LoginDeps) LoginResult {
	if deps.Limiter != nil && !deps.Limiter.TryConsume(rate.ClassTwoFactor) {
		return LoginResult{Failure: LoginFailureRateLimited, Err: rate.ErrRateLimited}
	}

	sess, err := deps.API.VerifyTwoFactor(ctx, tempToken, code)
	if err != nil {
		return classifyLoginError(err)
	}
	return storeSession(ctx, deps.Vault, sess)
}

func storeSession(ctx context.Context, v SessionVault, sess *authapi.Session) LoginResult {
	if sess == nil || (sess.User == nil && !sess.Credentials.HasAccess()) {
		return LoginResult{Failure: LoginFailureMalformed, Err: authapi.ErrMalformed}
	}
	rec := vault.Record{Credentials: sess.Credentials, User: sess.User}
	if err := v.Store(ctx, rec, vault.CauseLogin); err != nil {
		return LoginResult{Failure: LoginFailureStore, Err: err}
	}
	return LoginResult{Record: &rec}
}

func classifyLoginError(err error) LoginResult {
	if errors.Is(err, transport.ErrNetwork) {
		return LoginResult{Failure: LoginFailureNetwork, Err: err}
	}
	if errors.Is(err, authapi.ErrMalformed) {
		return LoginResult{Failure: LoginFailureMalformed, Err: err}
	}
	res := LoginResult{Failure: LoginFailureRejected, Err: err}
	if se, ok := authapi.AsStatus(err); ok {
		res.Status = se.Status
		res.Message = se.Message
		if se.Expired {
			res.Failure = LoginFailureChallengeExpired
		}
	}
	return res
}
