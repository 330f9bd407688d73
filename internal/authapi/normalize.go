package authapi

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/vault"
)

const (
	maxIdentifierRunes = 254
	maxMessageRunes    = 200
	// Epoch values below this are seconds, above are milliseconds.
	epochMillisFloor = 100_000_000_000
)

// Session is a normalized authentication result.
type Session struct {
	Credentials vault.CredentialSet
	User        *vault.UserSnapshot
	// CookieOnly marks a session the server tracks by cookie and returned
	// no bearer token for.
	CookieOnly bool
}

// Challenge is a pending step-up verification.
type Challenge struct {
	TempToken string
	Method    string
	EmailHint string
	// ExpiresAt is the temp token's exp claim, zero when unknown.
	ExpiresAt time.Time
}

// LoginOutcome carries either a session or a challenge.
type LoginOutcome struct {
	Session   *Session
	Challenge *Challenge
	Message   string
}

type body map[string]any

func decodeBody(data []byte) (body, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m body
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func (b body) str(keys ...string) string {
	for _, k := range keys {
		switch v := b[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func (b body) flag(keys ...string) bool {
	for _, k := range keys {
		switch v := b[k].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			if ok, _ := strconv.ParseBool(v); ok {
				return true
			}
		}
	}
	return false
}

func (b body) obj(key string) (body, bool) {
	m, ok := b[key].(map[string]any)
	return body(m), ok
}

// normalizeLogin maps a login or verify response into one shape.
func normalizeLogin(data []byte, now time.Time, defaultTTL time.Duration) (*LoginOutcome, error) {
	b, ok := decodeBody(data)
	if !ok {
		return nil, ErrMalformed
	}
	out := &LoginOutcome{Message: FilterMessage(b.str("message"))}

	if temp := b.str("temp_token", "tempToken"); temp != "" || b.flag("requires_2fa", "requires_two_factor", "requiresTwoFactor") {
		if temp == "" {
			return nil, ErrMalformed
		}
		ch := &Challenge{
			TempToken: temp,
			Method:    b.str("method"),
			EmailHint: b.str("email_hint", "emailHint"),
		}
		if exp, ok := jwt.ExpiresAt(temp); ok {
			ch.ExpiresAt = exp
		}
		out.Challenge = ch
		return out, nil
	}

	s, err := normalizeSessionBody(b, now, defaultTTL)
	if err != nil {
		return nil, err
	}
	out.Session = s
	return out, nil
}

// normalizeSession maps a refresh response.
func normalizeSession(data []byte, now time.Time, defaultTTL time.Duration) (*Session, error) {
	b, ok := decodeBody(data)
	if !ok {
		return nil, ErrMalformed
	}
	return normalizeSessionBody(b, now, defaultTTL)
}

func normalizeSessionBody(b body, now time.Time, defaultTTL time.Duration) (*Session, error) {
	s := &Session{User: userFrom(b)}
	access := b.str("access_token", "token", "accessToken")
	if access == "" {
		if s.User == nil {
			return nil, ErrMalformed
		}
		s.CookieOnly = true
		return s, nil
	}
	s.Credentials = vault.CredentialSet{
		AccessToken:  access,
		RefreshToken: b.str("refresh_token", "refreshToken"),
		ExpiresAt:    expiryFrom(b, access, now, defaultTTL),
	}
	return s, nil
}

// normalizeUser maps a /auth/me response.
func normalizeUser(data []byte) (*vault.UserSnapshot, error) {
	b, ok := decodeBody(data)
	if !ok {
		return nil, ErrMalformed
	}
	u := userFrom(b)
	if u == nil {
		return nil, ErrMalformed
	}
	return u, nil
}

// userFrom reads the "user" object, or the body itself when it looks like a
// user. Unknown fields, secrets included, are dropped.
func userFrom(b body) *vault.UserSnapshot {
	if nested, ok := b.obj("user"); ok {
		return snapshot(nested)
	}
	if b.str("username", "email") == "" {
		return nil
	}
	return snapshot(b)
}

func snapshot(b body) *vault.UserSnapshot {
	id := b.str("id", "_id", "user_id")
	if id == "" {
		return nil
	}
	return &vault.UserSnapshot{
		ID:               id,
		Username:         b.str("username"),
		Email:            b.str("email"),
		FullName:         b.str("full_name", "fullName"),
		Phone:            b.str("phone"),
		Address:          b.str("address"),
		ProfileImageURL:  b.str("profile_image_url", "profileImageUrl"),
		IsAdmin:          b.flag("is_admin", "isAdmin"),
		EmailVerified:    b.flag("email_verified", "emailVerified"),
		TwoFactorEnabled: b.flag("two_factor_enabled", "twoFactorEnabled"),
	}
}

func expiryFrom(b body, access string, now time.Time, defaultTTL time.Duration) time.Time {
	switch v := b["expires_at"].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			if n < epochMillisFloor {
				return time.Unix(n, 0)
			}
			return time.UnixMilli(n)
		}
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	if v, ok := b["expires_in"].(json.Number); ok {
		if secs, err := v.Float64(); err == nil && secs > 0 {
			return now.Add(time.Duration(secs * float64(time.Second)))
		}
	}
	if exp, ok := jwt.ExpiresAt(access); ok {
		return exp
	}
	return now.Add(defaultTTL)
}

// errorMessage extracts the server's human message from an error body.
func errorMessage(data []byte) string {
	b, ok := decodeBody(data)
	if !ok {
		return ""
	}
	return b.str("detail", "message", "error")
}

var controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

// SanitizeIdentifier trims, strips control characters and caps the
// identifier at 254 runes. Secrets are never sanitized.
func SanitizeIdentifier(s string) string {
	s = controlChars.ReplaceAllString(strings.TrimSpace(s), "")
	return truncateRunes(s, maxIdentifierRunes)
}

var sensitiveWords = regexp.MustCompile(`(?i)password|token|session|database|sql|server|internal`)

// FilterMessage masks words that could leak implementation details and caps
// the message at 200 runes.
func FilterMessage(msg string) string {
	if msg == "" {
		return ""
	}
	return truncateRunes(sensitiveWords.ReplaceAllString(msg, "[FILTERED]"), maxMessageRunes)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Message returns the filtered human message of an error body.
func Message(data []byte) string {
	return FilterMessage(errorMessage(data))
}

// ParseUser normalizes a /me style body into a snapshot.
func ParseUser(data []byte) (*vault.UserSnapshot, error) {
	return normalizeUser(data)
}
