package flows

import (
	"context"
	"sync"

	"github.com/MrEthical07/goSession/vault"
)

// Fence orders refresh writes against session clears. Every clear moves the
// epoch forward; a refresh commits its result only while the epoch it started
// in is still current. The zero value is ready to use and a nil *Fence admits
// every commit.
type Fence struct {
	mu    sync.Mutex
	epoch uint64
}

// Epoch returns the current session epoch.
func (f *Fence) Epoch() uint64 {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

// Bump ends the current epoch. It waits for an in-progress commit, so a clear
// issued after Bump always lands after that commit's write.
func (f *Fence) Bump() {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.epoch++
	f.mu.Unlock()
}

// Commit runs fn if epoch is still current and reports whether it ran.
func (f *Fence) Commit(epoch uint64, fn func() error) (bool, error) {
	if f == nil {
		return true, fn()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epoch != epoch {
		return false, nil
	}
	return true, fn()
}

// Fenced returns v with every Clear preceded by a fence bump.
func Fenced(v SessionVault, f *Fence) SessionVault {
	return fencedVault{SessionVault: v, fence: f}
}

type fencedVault struct {
	SessionVault
	fence *Fence
}

func (v fencedVault) Clear(ctx context.Context, cause vault.Cause) error {
	v.fence.Bump()
	return v.SessionVault.Clear(ctx, cause)
}
