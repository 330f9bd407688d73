package goSession

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthRequired means no usable credential exists; the caller should
	// send the user to login.
	ErrAuthRequired = errors.New("authentication required")
	// ErrRefreshDenied means the refresh token was rejected and the session
	// was cleared.
	ErrRefreshDenied = errors.New("refresh denied")
	// ErrRateLimited is local client-side throttling. Back off before retrying.
	ErrRateLimited = errors.New("rate limited")
	// ErrNetworkFailure is a transport failure. It never clears the session.
	ErrNetworkFailure = errors.New("network failure")
	// ErrUpstream is matched by every [*UpstreamError].
	ErrUpstream = errors.New("upstream error")
	// ErrNotReplayed is a 401 on a request that was not safe to reissue after
	// the refresh. The caller decides whether to send it again.
	ErrNotReplayed = errors.New("request not replayed after refresh")
	// ErrInvalidCredentials is a rejected login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTwoFactorRejected is a wrong step-up code. The challenge stays open.
	ErrTwoFactorRejected = errors.New("two-factor code rejected")
	// ErrTwoFactorExpired means the pending challenge is gone.
	ErrTwoFactorExpired = errors.New("two-factor challenge expired")
	// ErrNoPendingChallenge is returned when no step-up challenge matches.
	ErrNoPendingChallenge = errors.New("no pending two-factor challenge")
	// ErrRegistrationFailed wraps the server's registration refusal.
	ErrRegistrationFailed = errors.New("registration failed")
	// ErrMalformedResponse is a server answer that cannot be normalized.
	ErrMalformedResponse = errors.New("malformed server response")
	// ErrStorageUnavailable is a vault write failure.
	ErrStorageUnavailable = errors.New("session storage unavailable")
	// ErrManagerNotReady is returned by a zero or partially built Manager.
	ErrManagerNotReady = errors.New("session manager not ready")
	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("session manager closed")
)

// UpstreamError is a non-success response that the executor does not retry.
type UpstreamError struct {
	Status  int
	Header  http.Header
	Body    []byte
	Message string

	notReplayed bool
}

func (e *UpstreamError) Error() string {
	if e.notReplayed {
		return fmt.Sprintf("upstream status %d: %s", e.Status, ErrNotReplayed)
	}
	if e.Message != "" {
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upstream status %d", e.Status)
}

// Is matches [ErrUpstream], and [ErrNotReplayed] for an unreplayed 401.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream || (e.notReplayed && target == ErrNotReplayed)
}
