package goSession

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/internal/authapi"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/transport"
	"github.com/MrEthical07/goSession/vault"
)

// Login authenticates with identifier and secret.
//
// On success the tab is authenticated, the credentials are in the vault and
// other tabs are told. When the server asks for a step-up code the result has
// RequiresTwoFactor set and the tab waits in [StatePendingTwoFactor]; finish
// with [Manager.SubmitTwoFactorChallenge].
//
// A signed-in tab is logged out first.
func (m *Manager) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	if m.State() == StateAuthenticated {
		m.logoutLocked(ctx, ReasonExplicit)
	}

	res := m.flows.Login(ctx, identifier, secret)
	return m.finishLogin(ctx, res, nil)
}

// SubmitTwoFactorChallenge completes a pending step-up. An empty tempToken
// means the open challenge. A wrong code leaves the challenge open and
// returns [ErrTwoFactorRejected]; an expired one ends it with
// [ErrTwoFactorExpired].
func (m *Manager) SubmitTwoFactorChallenge(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	m.mu.RLock()
	pc := m.challenge
	m.mu.RUnlock()
	if pc == nil || (tempToken != "" && tempToken != pc.tempToken) {
		return nil, ErrNoPendingChallenge
	}
	if !m.clock.Now().Before(pc.expiresAt) {
		m.expireChallengeLocked(ctx, pc)
		return nil, ErrTwoFactorExpired
	}

	res := m.flows.VerifyTwoFactor(ctx, pc.tempToken, code)
	return m.finishLogin(ctx, res, pc)
}

// finishLogin maps a login or step-up outcome. pc is the challenge being
// answered, nil for a password login.
func (m *Manager) finishLogin(ctx context.Context, res flows.LoginResult, pc *pendingChallenge) (*LoginResult, error) {
	verifying := pc != nil

	switch res.Failure {
	case flows.LoginFailureNone:
		if res.Challenge != nil {
			return m.beginChallenge(ctx, res), nil
		}
		rec := *res.Record
		m.adopt(rec, ChangeLogin, SourceLocal)
		userID := ""
		if rec.User != nil {
			userID = rec.User.ID
		}
		if verifying {
			m.metricInc(MetricTwoFactorSuccess)
			m.emitAudit(ctx, auditEventTwoFactorSuccess, true, userID, nil, nil)
		} else {
			m.metricInc(MetricLoginSuccess)
			m.emitAudit(ctx, auditEventLoginSuccess, true, userID, nil, nil)
		}
		return &LoginResult{OK: true, Message: res.Message, User: rec.User.Clone()}, nil

	case flows.LoginFailureRateLimited:
		class := rate.ClassLogin
		if verifying {
			class = rate.ClassTwoFactor
		}
		m.metricInc(MetricLoginRateLimited)
		m.emitRateLimit(ctx, string(class))
		return nil, ErrRateLimited

	case flows.LoginFailureNetwork:
		return nil, m.loginFailed(ctx, verifying, fmt.Errorf("%w: %w", ErrNetworkFailure, res.Err))

	case flows.LoginFailureChallengeExpired:
		if verifying {
			m.expireChallengeLocked(ctx, pc)
			return nil, ErrTwoFactorExpired
		}
		return nil, m.loginFailed(ctx, false, rejection(ErrInvalidCredentials, res.Message))

	case flows.LoginFailureRejected:
		if verifying {
			m.metricInc(MetricTwoFactorFailure)
			m.emitAudit(ctx, auditEventTwoFactorFailure, false, "", ErrTwoFactorRejected, nil)
			return nil, rejection(ErrTwoFactorRejected, res.Message)
		}
		switch res.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return nil, m.loginFailed(ctx, false, rejection(ErrInvalidCredentials, res.Message))
		}
		return nil, m.loginFailed(ctx, false, &UpstreamError{Status: res.Status, Message: res.Message})

	case flows.LoginFailureMalformed:
		return nil, m.loginFailed(ctx, verifying, fmt.Errorf("%w: %v", ErrMalformedResponse, res.Err))

	default:
		return nil, m.loginFailed(ctx, verifying, fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Err))
	}
}

func (m *Manager) loginFailed(ctx context.Context, verifying bool, err error) error {
	if verifying {
		m.metricInc(MetricTwoFactorFailure)
		m.emitAudit(ctx, auditEventTwoFactorFailure, false, "", err, nil)
		return err
	}
	m.metricInc(MetricLoginFailure)
	m.emitAudit(ctx, auditEventLoginFailure, false, "", err, nil)
	return err
}

func rejection(sentinel error, msg string) error {
	if msg == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// beginChallenge opens the step-up sub-state. The challenge expires at the
// temp token's exp claim, or after TwoFactor.ChallengeTTL.
func (m *Manager) beginChallenge(ctx context.Context, res flows.LoginResult) *LoginResult {
	ch := res.Challenge
	now := m.clock.Now()
	expires := ch.ExpiresAt
	if expires.IsZero() || !expires.After(now) {
		expires = now.Add(m.config.TwoFactor.ChallengeTTL)
	}

	pc := &pendingChallenge{
		tempToken: ch.TempToken,
		method:    ch.Method,
		emailHint: ch.EmailHint,
		expiresAt: expires,
	}
	pc.timer = m.clock.AfterFunc(expires.Sub(now), func() { m.onChallengeTimeout(pc) })

	m.emitMu.Lock()
	m.mu.Lock()
	prev := m.state
	if m.challenge != nil && m.challenge.timer != nil {
		m.challenge.timer.Stop()
	}
	m.challenge = pc
	m.state = StatePendingTwoFactor
	m.user = nil
	m.mu.Unlock()
	m.deliver(SessionChange{
		Kind:     ChangeTwoFactorRequired,
		State:    StatePendingTwoFactor,
		Previous: prev,
		Source:   SourceLocal,
		At:       now,
	})
	m.emitMu.Unlock()

	m.metricInc(MetricTwoFactorRequired)
	m.emitAudit(ctx, auditEventTwoFactorRequired, true, "", nil, func() map[string]string {
		return map[string]string{"method": ch.Method}
	})

	return &LoginResult{
		RequiresTwoFactor: true,
		TempToken:         ch.TempToken,
		Method:            ch.Method,
		EmailHint:         ch.EmailHint,
		ChallengeExpires:  expires,
		Message:           res.Message,
	}
}

func (m *Manager) onChallengeTimeout(pc *pendingChallenge) {
	if err := m.acquire(m.lifeCtx); err != nil {
		return
	}
	defer m.release()
	m.expireChallengeLocked(m.lifeCtx, pc)
}

// expireChallengeLocked ends pc if it is still the open challenge. The
// caller holds the operation slot.
func (m *Manager) expireChallengeLocked(ctx context.Context, pc *pendingChallenge) {
	m.mu.RLock()
	current := m.challenge == pc
	m.mu.RUnlock()
	if !current {
		return
	}
	if m.toUnauthenticated(ReasonTwoFactorExpired, SourceLocal) {
		m.metricInc(MetricTwoFactorExpired)
		m.emitAudit(ctx, auditEventTwoFactorExpired, false, "", ErrTwoFactorExpired, nil)
	}
}

// Logout ends the session. Local state is cleared first, so the tab reaches
// [StateUnauthenticated] even when the server or the cache cannot be reached;
// those steps are best-effort and only logged. Calling Logout on a signed-out
// tab does nothing. An empty reason means [ReasonExplicit].
func (m *Manager) Logout(ctx context.Context, reason LogoutReason) {
	if m.check() != nil {
		return
	}
	if reason == "" {
		reason = ReasonExplicit
	}
	if err := m.acquire(m.lifeCtx); err != nil {
		return
	}
	defer m.release()
	m.logoutLocked(ctx, reason)
}

func (m *Manager) logoutLocked(ctx context.Context, reason LogoutReason) {
	if m.State() == StateUnauthenticated {
		if _, ok := m.vault.Read(ctx); !ok {
			m.idle.Disarm()
			return
		}
	}

	userID := m.currentUserID()
	cause := vault.CauseLogout
	if reason == ReasonIdle {
		cause = vault.CauseIdle
	}
	m.flows.Logout(ctx, cause)
	m.toUnauthenticated(reason, SourceLocal)

	event := auditEventLogout
	if reason == ReasonIdle {
		event = auditEventIdleLogout
		m.metricInc(MetricIdleLogout)
	} else {
		m.metricInc(MetricLogout)
	}
	m.emitAudit(ctx, event, true, userID, nil, func() map[string]string {
		return map[string]string{"reason": string(reason)}
	})
}

func (m *Manager) notifyServerLogout(ctx context.Context, rec vault.Record) error {
	return m.api.Logout(ctx, rec.Credentials.AccessToken, rec.Credentials.RefreshToken)
}

func (m *Manager) purgeCache(ctx context.Context) error {
	if m.purger == nil {
		return nil
	}
	return m.purger.PurgeAll(ctx)
}

// ExtendSession restarts the idle budget here and in every other tab. It does
// nothing when the tab is not signed in or idle logout is disabled.
func (m *Manager) ExtendSession(ctx context.Context) {
	if m.check() != nil || m.State() != StateAuthenticated {
		return
	}
	if !m.idle.Extend() {
		return
	}
	m.announceExtension(ctx, SourceLocal)
}

func (m *Manager) announceExtension(ctx context.Context, source ChangeSource) {
	m.touchActivity(ctx)
	m.emit(broadcast.EventSessionExtended, broadcast.ExtendedPayload{
		ExpiresAtMS: m.clock.Now().Add(m.config.Idle.Budget).UnixMilli(),
	})
	m.metricInc(MetricSessionExtended)
	m.emitAudit(ctx, auditEventSessionExtended, true, m.currentUserID(), nil, nil)
	m.publish(SessionChange{
		Kind:     ChangeExtended,
		State:    m.State(),
		Previous: m.State(),
		User:     m.AuthenticatedSnapshot(),
		Source:   source,
		At:       m.clock.Now(),
	})
}

// RecordActivity reports user activity to the idle timer. Calls inside
// Idle.ActivityThrottle of the last honored one are ignored. Honored calls
// are persisted, so the budget survives a restart.
func (m *Manager) RecordActivity() {
	if m.check() != nil {
		return
	}
	if m.idle.ResetOnActivity() {
		m.touchActivity(m.lifeCtx)
	}
}

// Register creates an account and returns the server's message. It does not
// sign in.
func (m *Manager) Register(ctx context.Context, in RegisterInput) (string, error) {
	if err := m.check(); err != nil {
		return "", err
	}
	if !m.limiter.TryConsume(rate.ClassLogin) {
		m.emitRateLimit(ctx, string(rate.ClassLogin))
		return "", ErrRateLimited
	}

	msg, err := m.api.Register(ctx, authapi.RegisterInput(in))
	if err == nil {
		return msg, nil
	}
	if errors.Is(err, transport.ErrNetwork) {
		return "", fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	if se, ok := authapi.AsStatus(err); ok {
		return "", rejection(ErrRegistrationFailed, se.Message)
	}
	return "", fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
}

// RefetchUser replaces the user snapshot with the server's current view. A
// rejected session is cleared like any other authorization failure; a
// network failure changes nothing.
func (m *Manager) RefetchUser(ctx context.Context) error {
	if err := m.check(); err != nil {
		return err
	}
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	resp, err := m.ExecuteAuthenticated(ctx, &Request{Method: http.MethodGet, URL: m.config.API.Paths.Me})
	if err != nil {
		return err
	}
	user, err := authapi.ParseUser(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	found := false
	_, err = m.fence.Commit(m.fence.Epoch(), func() error {
		rec, ok := m.vault.Read(ctx)
		if !ok {
			return nil
		}
		found = true
		rec.User = user
		return m.vault.Store(ctx, rec, vault.CauseProfile)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !found {
		return ErrAuthRequired
	}
	if m.State() == StateAuthenticated {
		m.setState(StateAuthenticated, user, SessionChange{Kind: ChangeProfile, Source: SourceServer})
	}
	return nil
}
