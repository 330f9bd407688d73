package vault

import "errors"

var (
	// ErrIncomplete is returned by Store for an access token without an expiry.
	ErrIncomplete = errors.New("vault: access token without expiry")
	// ErrStorageUnavailable wraps backing-store failures.
	ErrStorageUnavailable = errors.New("vault: storage unavailable")
	// ErrCorrupt marks a stored record that failed the shape check.
	ErrCorrupt = errors.New("vault: corrupt record")
	// ErrNotFound is returned by storages that report a missing key as an error.
	ErrNotFound = errors.New("vault: key not found")
)
