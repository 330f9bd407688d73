package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goSession/vault"
)

// Event names a cross-tab session event.
type Event string

const (
	EventLogin           Event = "login"
	EventLogout          Event = "logout"
	EventSessionExtended Event = "session-extended"
	EventSessionInvalid  Event = "session-invalid"
	// EventSessionRefreshed carries the rotated credentials after a refresh.
	// Transports that retain messages hand it to tabs that start later.
	EventSessionRefreshed Event = "session-refreshed"
)

// Known reports whether e is one of the defined events.
func (e Event) Known() bool {
	switch e {
	case EventLogin, EventLogout, EventSessionExtended, EventSessionInvalid, EventSessionRefreshed:
		return true
	}
	return false
}

var (
	// ErrClosed is returned by transports after Close.
	ErrClosed = errors.New("broadcast: transport closed")
	// ErrMalformed reports an envelope that could not be decoded.
	ErrMalformed = errors.New("broadcast: malformed message")
)

// Message is the envelope every transport carries.
type Message struct {
	ID      string          `json:"id"`
	Origin  string          `json:"origin"`
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	AtMS    int64           `json:"at_ms"`
}

// At returns the emission time.
func (m Message) At() time.Time { return time.UnixMilli(m.AtMS) }

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	return nil
}

// Marshal encodes m for the wire.
func Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes a wire envelope and rejects unknown events or a missing
// origin.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Origin == "" || !m.Event.Known() {
		return Message{}, ErrMalformed
	}
	return m, nil
}

// LoginPayload accompanies EventLogin and EventSessionRefreshed. It carries
// the credential set so tabs whose storage is not shared can adopt the
// session, and the write time so a receiver can tell it from an older copy.
type LoginPayload struct {
	AccessToken  string              `json:"access_token,omitempty"`
	RefreshToken string              `json:"refresh_token,omitempty"`
	ExpiresAtMS  int64               `json:"expires_at_ms,omitempty"`
	User         *vault.UserSnapshot `json:"user,omitempty"`
	StoredAtMS   int64               `json:"stored_at_ms,omitempty"`
}

// NewLoginPayload builds a payload from a vault record.
func NewLoginPayload(rec vault.Record) LoginPayload {
	p := LoginPayload{
		AccessToken:  rec.Credentials.AccessToken,
		RefreshToken: rec.Credentials.RefreshToken,
		User:         rec.User.Clone(),
	}
	if !rec.Credentials.ExpiresAt.IsZero() {
		p.ExpiresAtMS = rec.Credentials.ExpiresAt.UnixMilli()
	}
	if !rec.StoredAt.IsZero() {
		p.StoredAtMS = rec.StoredAt.UnixMilli()
	}
	return p
}

// Record converts the payload back into a vault record.
func (p LoginPayload) Record() vault.Record {
	rec := vault.Record{
		Credentials: vault.CredentialSet{
			AccessToken:  p.AccessToken,
			RefreshToken: p.RefreshToken,
		},
		User: p.User.Clone(),
	}
	if p.ExpiresAtMS > 0 {
		rec.Credentials.ExpiresAt = time.UnixMilli(p.ExpiresAtMS)
	}
	if p.StoredAtMS > 0 {
		rec.StoredAt = time.UnixMilli(p.StoredAtMS)
	}
	return rec
}

// LogoutPayload accompanies EventLogout and EventSessionInvalid.
type LogoutPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ExtendedPayload accompanies EventSessionExtended.
type ExtendedPayload struct {
	ExpiresAtMS int64 `json:"expires_at_ms,omitempty"`
}
