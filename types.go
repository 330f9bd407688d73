package goSession

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/internal/clock"
	"github.com/MrEthical07/goSession/transport"
	"github.com/MrEthical07/goSession/vault"
)

// UserSnapshot is the sanitized authenticated principal.
type UserSnapshot = vault.UserSnapshot

// Request and Response are the executor's transport shapes.
type (
	Request  = transport.Request
	Response = transport.Response
)

// Clock and Timer let tests drive every timer from a simulated clock.
type (
	Clock = clock.Clock
	Timer = clock.Timer
)

// SessionState is the tab's derived authentication state. Exactly one value
// holds at any instant.
type SessionState uint8

const (
	// StateUnauthenticated is the initial and terminal state.
	StateUnauthenticated SessionState = iota
	// StateAuthenticated carries a user snapshot.
	StateAuthenticated
	// StatePendingTwoFactor waits for a step-up code.
	StatePendingTwoFactor
)

func (s SessionState) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StatePendingTwoFactor:
		return "pending_two_factor"
	default:
		return "unauthenticated"
	}
}

// LogoutReason distinguishes why a session ended, for UI messaging.
type LogoutReason string

const (
	ReasonExplicit         LogoutReason = "explicit"
	ReasonIdle             LogoutReason = "idle"
	ReasonServerRejected   LogoutReason = "server-rejected"
	ReasonOtherTab         LogoutReason = "other-tab"
	ReasonTwoFactorExpired LogoutReason = "two-factor-expired"
)

// ChangeKind names a session transition.
type ChangeKind string

const (
	ChangeLogin             ChangeKind = "login"
	ChangeTwoFactorRequired ChangeKind = "two_factor_required"
	ChangeLogout            ChangeKind = "logout"
	ChangeRestored          ChangeKind = "session_restored"
	ChangeNoSession         ChangeKind = "no_session"
	ChangeExtended          ChangeKind = "session_extended"
	ChangeRefreshed         ChangeKind = "session_refreshed"
	ChangeProfile           ChangeKind = "profile_updated"
)

// ChangeSource names what caused a transition.
type ChangeSource string

const (
	SourceLocal     ChangeSource = "local"
	SourceBroadcast ChangeSource = "broadcast"
	SourceStorage   ChangeSource = "storage"
	SourceVault     ChangeSource = "vault"
	SourceServer    ChangeSource = "server"
)

// SessionChange is delivered to [Manager.SubscribeToSessionChanges] handlers
// in transition order.
type SessionChange struct {
	Kind     ChangeKind
	State    SessionState
	Previous SessionState
	User     *UserSnapshot
	// Reason is set for ChangeLogout.
	Reason LogoutReason
	Source ChangeSource
	At     time.Time
}

// LoginResult reports a login or step-up outcome. When RequiresTwoFactor is
// set, pass TempToken to [Manager.SubmitTwoFactorChallenge].
type LoginResult struct {
	OK                bool
	RequiresTwoFactor bool
	TempToken         string
	Method            string
	EmailHint         string
	ChallengeExpires  time.Time
	Message           string
	User              *UserSnapshot
}

// SessionInfo is a point-in-time view of the tab.
type SessionInfo struct {
	TabID            string
	State            SessionState
	User             *UserSnapshot
	AccessExpiresAt  time.Time
	CookieSession    bool
	IdleState        string
	IdleRemaining    time.Duration
	IdleDisabled     bool
	ChallengeExpires time.Time
	Loading          bool
}

// RegisterInput is the account registration form.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	FullName string
	Address  string
	Phone    string
}

// CachePurger is the offline response cache. PurgeAll runs best-effort on
// every logout.
type CachePurger interface {
	PurgeAll(ctx context.Context) error
}

// CachePurgerFunc adapts a function to [CachePurger].
type CachePurgerFunc func(ctx context.Context) error

func (f CachePurgerFunc) PurgeAll(ctx context.Context) error { return f(ctx) }

// IdleDecision is the answer to an idle warning.
type IdleDecision uint8

const (
	// IdleWait lets the logout timer run out.
	IdleWait IdleDecision = iota
	// IdleExtend restarts the budget and tells other tabs to do the same.
	IdleExtend
	// IdleLogout ends the session now.
	IdleLogout
)

// IdleWarningFunc is called once per idle period when the warning lead is
// reached. It is the synchronous decision point before forced logout.
type IdleWarningFunc func(remaining time.Duration) IdleDecision
