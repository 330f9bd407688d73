package vault

import "time"

// CredentialSet is the bearer material for one authenticated session.
// Zero values mean absent.
type CredentialSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// HasAccess reports whether an access token is present.
func (c CredentialSet) HasAccess() bool { return c.AccessToken != "" }

// HasRefresh reports whether a refresh token is present.
func (c CredentialSet) HasRefresh() bool { return c.RefreshToken != "" }

// Expired reports whether the access token is at or past its expiry.
func (c CredentialSet) Expired(now time.Time) bool {
	if !c.HasAccess() {
		return true
	}
	return !now.Before(c.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires within d of now.
func (c CredentialSet) ExpiresWithin(now time.Time, d time.Duration) bool {
	if !c.HasAccess() {
		return true
	}
	return !now.Add(d).Before(c.ExpiresAt)
}

// Valid checks the record invariant: an access token always carries an expiry.
func (c CredentialSet) Valid() bool {
	return !c.HasAccess() || !c.ExpiresAt.IsZero()
}

// UserSnapshot is the sanitized authenticated principal. It never carries
// passwords, tokens, or security answers.
type UserSnapshot struct {
	ID               string `json:"id"`
	Username         string `json:"username,omitempty"`
	Email            string `json:"email,omitempty"`
	FullName         string `json:"full_name,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Address          string `json:"address,omitempty"`
	ProfileImageURL  string `json:"profile_image_url,omitempty"`
	IsAdmin          bool   `json:"is_admin"`
	EmailVerified    bool   `json:"email_verified"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
}

// Clone returns an independent copy, or nil for a nil receiver.
func (u *UserSnapshot) Clone() *UserSnapshot {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Record is everything the vault persists.
type Record struct {
	Credentials CredentialSet
	User        *UserSnapshot
	StoredAt    time.Time
}

// Empty reports whether the record carries neither credentials nor a user.
func (r Record) Empty() bool {
	return !r.Credentials.HasAccess() && !r.Credentials.HasRefresh() && r.User == nil
}

// Cause tags why a record was written or cleared.
type Cause string

const (
	CauseLogin   Cause = "login"
	CauseRefresh Cause = "refresh"
	CauseProfile Cause = "profile"
	CauseSync    Cause = "sync"
	CauseLogout  Cause = "logout"
	CauseIdle    Cause = "idle"
	CauseInvalid Cause = "invalid"
)

// ChangeKind distinguishes writes from removals.
type ChangeKind uint8

const (
	Stored ChangeKind = iota + 1
	Cleared
)

// Change is reported to the [Notifier] after every successful Store or Clear.
type Change struct {
	Kind   ChangeKind
	Cause  Cause
	Record Record
}

// Notifier observes vault writes. The session manager maps changes to
// cross-tab broadcast events.
type Notifier interface {
	VaultChanged(change Change)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(Change)

func (f NotifierFunc) VaultChanged(change Change) { f(change) }
