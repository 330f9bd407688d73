package vault

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/internal/clock"
)

const defaultPrefix = "gosession"

// Storage is the origin-scoped key/value store shared by every tab.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Watcher is implemented by storages that can report writes made by other
// processes. fn receives the changed key.
type Watcher interface {
	Watch(ctx context.Context, fn func(key string)) error
}

// Options configures a [Vault].
type Options struct {
	Prefix   string
	Sealer   Sealer
	Notifier Notifier
	Clock    clock.Clock
	// OnDiscard is called when Read drops a corrupt record.
	OnDiscard func(err error)
}

// Vault is the single source of truth for tokens and the user snapshot.
type Vault struct {
	storage   Storage
	prefix    string
	sealer    Sealer
	clock     clock.Clock
	onDiscard func(error)

	mu       sync.RWMutex
	notifier Notifier
}

// New creates a [Vault] over storage.
func New(storage Storage, opts Options) *Vault {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Vault{
		storage:   storage,
		prefix:    opts.Prefix,
		sealer:    opts.Sealer,
		clock:     opts.Clock,
		onDiscard: opts.OnDiscard,
		notifier:  opts.Notifier,
	}
}

// SetNotifier replaces the change observer.
func (v *Vault) SetNotifier(n Notifier) {
	v.mu.Lock()
	v.notifier = n
	v.mu.Unlock()
}

// Key returns the storage key holding the record.
func (v *Vault) Key() string { return v.prefix + ":record" }

// ActivityKey returns the storage key holding the last user activity.
func (v *Vault) ActivityKey() string { return v.prefix + ":activity" }

// TouchActivity records at as the session's last user activity. It is kept
// apart from the record so it never races a token write, and it does not
// notify.
func (v *Vault) TouchActivity(ctx context.Context, at time.Time) error {
	if err := v.storage.Set(ctx, v.ActivityKey(), strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// LastActivity returns the last recorded user activity. An unreadable value
// reads as absent.
func (v *Vault) LastActivity(ctx context.Context) (time.Time, bool) {
	value, ok, err := v.storage.Get(ctx, v.ActivityKey())
	if err != nil || !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Store atomically replaces the whole record.
func (v *Vault) Store(ctx context.Context, rec Record, cause Cause) error {
	if !rec.Credentials.Valid() {
		return ErrIncomplete
	}
	rec.User = rec.User.Clone()
	if rec.StoredAt.IsZero() {
		rec.StoredAt = v.clock.Now()
	}

	data, err := Encode(rec)
	if err != nil {
		return err
	}

	value := string(data)
	if v.sealer != nil {
		value, err = v.sealer.Seal(data, []byte(v.Key()))
		if err != nil {
			return fmt.Errorf("vault: seal record: %w", err)
		}
	}

	if err := v.storage.Set(ctx, v.Key(), value); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	v.notify(Change{Kind: Stored, Cause: cause, Record: rec})
	return nil
}

// Read returns the stored record. It never fails: a missing, unreadable, or
// corrupt record reads as empty, and corrupt records are removed.
func (v *Vault) Read(ctx context.Context) (Record, bool) {
	value, ok, err := v.storage.Get(ctx, v.Key())
	if err != nil || !ok || value == "" {
		return Record{}, false
	}

	data := []byte(value)
	if v.sealer != nil {
		data, err = v.sealer.Open(value, []byte(v.Key()))
		if err != nil {
			v.discard(ctx, fmt.Errorf("%w: %v", ErrCorrupt, err))
			return Record{}, false
		}
	}

	rec, err := Decode(data)
	if err != nil {
		v.discard(ctx, err)
		return Record{}, false
	}
	if rec.Empty() {
		return Record{}, false
	}
	return rec, true
}

// Clear removes the record and its activity time. Clearing an empty vault is
// not an error.
func (v *Vault) Clear(ctx context.Context, cause Cause) error {
	if err := v.storage.Remove(ctx, v.Key()); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	_ = v.storage.Remove(ctx, v.ActivityKey())
	v.notify(Change{Kind: Cleared, Cause: cause})
	return nil
}

// Watch forwards external changes of the record key when the storage
// supports it. It reports false when the storage cannot watch.
func (v *Vault) Watch(ctx context.Context, fn func()) (bool, error) {
	w, ok := v.storage.(Watcher)
	if !ok {
		return false, nil
	}
	key := v.Key()
	err := w.Watch(ctx, func(changed string) {
		if changed == key {
			fn()
		}
	})
	return true, err
}

// Now exposes the vault clock so callers compare expiries on the same timeline.
func (v *Vault) Now() time.Time { return v.clock.Now() }

func (v *Vault) discard(ctx context.Context, err error) {
	_ = v.storage.Remove(ctx, v.Key())
	if v.onDiscard != nil {
		v.onDiscard(err)
	}
}

func (v *Vault) notify(change Change) {
	v.mu.RLock()
	n := v.notifier
	v.mu.RUnlock()
	if n != nil {
		n.VaultChanged(change)
	}
}
