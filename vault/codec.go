package vault

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	recordFormatVersionCurrent = 1

	// CurrentSchemaVersion is the schema version written by Encode.
	CurrentSchemaVersion = recordFormatVersionCurrent
)

type wireRecord struct {
	Version      int           `json:"v"`
	AccessToken  string        `json:"access_token,omitempty"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	ExpiresAtMS  *int64        `json:"expires_at_ms,omitempty"`
	User         *UserSnapshot `json:"user,omitempty"`
	StoredAtMS   int64         `json:"stored_at_ms"`
}

// Encode serializes r in the current schema.
func Encode(r Record) ([]byte, error) {
	if !r.Credentials.Valid() {
		return nil, ErrIncomplete
	}

	w := wireRecord{
		Version:      recordFormatVersionCurrent,
		AccessToken:  r.Credentials.AccessToken,
		RefreshToken: r.Credentials.RefreshToken,
		User:         r.User,
		StoredAtMS:   r.StoredAt.UnixMilli(),
	}
	if !r.Credentials.ExpiresAt.IsZero() {
		ms := r.Credentials.ExpiresAt.UnixMilli()
		w.ExpiresAtMS = &ms
	}
	return json.Marshal(w)
}

// Decode parses a stored record and applies the shape check.
func Decode(data []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if w.Version != recordFormatVersionCurrent {
		return Record{}, fmt.Errorf("%w: unsupported record schema version %d", ErrCorrupt, w.Version)
	}
	if w.AccessToken != "" && (w.ExpiresAtMS == nil || *w.ExpiresAtMS <= 0) {
		return Record{}, fmt.Errorf("%w: access token without expiry", ErrCorrupt)
	}
	if w.User != nil && w.User.ID == "" {
		return Record{}, fmt.Errorf("%w: user snapshot without id", ErrCorrupt)
	}

	r := Record{
		Credentials: CredentialSet{
			AccessToken:  w.AccessToken,
			RefreshToken: w.RefreshToken,
		},
		User:     w.User,
		StoredAt: time.UnixMilli(w.StoredAtMS),
	}
	if w.ExpiresAtMS != nil {
		r.Credentials.ExpiresAt = time.UnixMilli(*w.ExpiresAtMS)
	}
	return r, nil
}
