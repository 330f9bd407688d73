package rate

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/internal/clock"
)

// Class names an operation family with its own ceiling.
type Class string

const (
	ClassRefresh   Class = "refresh"
	ClassAPI       Class = "api"
	ClassLogin     Class = "login"
	ClassTwoFactor Class = "two_factor"
)

// Config holds limiter tuning parameters.
type Config struct {
	Window         time.Duration
	Ceilings       map[Class]int
	DefaultCeiling int
}

type windowKey struct {
	class Class
	index int64
}

// Limiter is an in-memory sliding-window counter keyed by operation class.
// It is rebuilt empty on process start.
type Limiter struct {
	mu     sync.Mutex
	clock  clock.Clock
	config Config
	counts map[windowKey]int
}

// New creates a [Limiter]. A nil clock uses wall time.
func New(cfg Config, c clock.Clock) *Limiter {
	if c == nil {
		c = clock.Real()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	ceilings := make(map[Class]int, len(cfg.Ceilings))
	for class, n := range cfg.Ceilings {
		ceilings[class] = n
	}
	cfg.Ceilings = ceilings

	return &Limiter{
		clock:  c,
		config: cfg,
		counts: make(map[windowKey]int),
	}
}

// TryConsume admits one request of class and records it, or reports false
// when the ceiling for class is already reached inside the sliding window.
func (l *Limiter) TryConsume(class Class) bool {
	ceiling := l.Ceiling(class)

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked()
	l.purgeLocked(idx)

	if ceiling <= 0 {
		return false
	}

	cur := windowKey{class: class, index: idx}
	prev := windowKey{class: class, index: idx - 1}
	if l.counts[cur]+l.counts[prev] >= ceiling {
		return false
	}
	l.counts[cur]++
	return true
}

// Check is TryConsume expressed as an error.
func (l *Limiter) Check(class Class) error {
	if l.TryConsume(class) {
		return nil
	}
	return fmt.Errorf("%w: class %s", ErrRateLimited, class)
}

// Remaining returns how many requests of class the window still admits.
func (l *Limiter) Remaining(class Class) int {
	ceiling := l.Ceiling(class)

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked()
	used := l.counts[windowKey{class: class, index: idx}] + l.counts[windowKey{class: class, index: idx - 1}]
	if used >= ceiling {
		return 0
	}
	return ceiling - used
}

// Ceiling returns the configured ceiling for class.
func (l *Limiter) Ceiling(class Class) int {
	if n, ok := l.config.Ceilings[class]; ok {
		return n
	}
	return l.config.DefaultCeiling
}

// Reset drops every counter.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = make(map[windowKey]int)
}

func (l *Limiter) indexLocked() int64 {
	return l.clock.Now().UnixNano() / int64(l.config.Window)
}

// purgeLocked drops buckets older than two window widths.
func (l *Limiter) purgeLocked(current int64) {
	for k := range l.counts {
		if k.index < current-1 {
			delete(l.counts, k)
		}
	}
}

func (l *Limiter) buckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
