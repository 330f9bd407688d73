// Package idle implements the per-tab inactivity timer.
//
// A Timer moves Active -> WarningPending -> LoggedOut. Only one underlying
// clock timer is pending at a time: the warning timer, and after it fires,
// the logout timer for the rest of the budget. Every reschedule bumps a
// generation counter under the same mutex, so a callback from a replaced
// schedule is ignored.
//
// # What this package must NOT do
//
//   - Touch the vault or emit broadcasts. Callers own those effects.
//   - Fire the logout callback before the budget has elapsed.
package idle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrEthical07/goSession/internal/clock"
)

// State is the timer's position in its state machine.
type State uint8

const (
	StateDisarmed State = iota
	StateActive
	StateWarningPending
	StateLoggedOut
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateWarningPending:
		return "warning_pending"
	case StateLoggedOut:
		return "logged_out"
	case StateDisabled:
		return "disabled"
	default:
		return "disarmed"
	}
}

// Decision is the warning callback's answer.
type Decision uint8

const (
	// DecisionWait leaves the logout timer running.
	DecisionWait Decision = iota
	// DecisionExtend restarts the budget from now.
	DecisionExtend
	// DecisionLogout fires the logout callback immediately.
	DecisionLogout
)

// WarningFunc runs when the warning lead is reached. remaining is the time
// left before logout.
type WarningFunc func(remaining time.Duration) Decision

// Config sets the budget and warning lead.
type Config struct {
	Budget      time.Duration
	WarningLead time.Duration
	// Exempt disables the timer entirely (mobile or native shells).
	Exempt bool
	// ActivityThrottle is the minimum spacing between honored activity
	// resets. Zero disables throttling.
	ActivityThrottle time.Duration
}

// Timer is the idle timer for one tab.
type Timer struct {
	cfg      Config
	clock    clock.Clock
	throttle *rate.Limiter

	mu           sync.Mutex
	state        State
	gen          uint64
	lastActivity time.Time
	pending      clock.Timer
	onWarning    WarningFunc
	onLogout     func()
}

// New returns a disarmed Timer.
func New(cfg Config, clk clock.Clock) *Timer {
	if clk == nil {
		clk = clock.Real()
	}
	limit := rate.Inf
	if cfg.ActivityThrottle > 0 {
		limit = rate.Every(cfg.ActivityThrottle)
	}
	t := &Timer{
		cfg:      cfg,
		clock:    clk,
		throttle: rate.NewLimiter(limit, 1),
	}
	if cfg.Exempt {
		t.state = StateDisabled
	}
	return t
}

// Arm starts the budget from now with the given callbacks. It replaces any
// previous schedule.
func (t *Timer) Arm(onWarning WarningFunc, onLogout func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.Exempt {
		t.state = StateDisabled
		return
	}
	t.onWarning = onWarning
	t.onLogout = onLogout
	now := t.clock.Now()
	t.scheduleLocked(now, now)
}

// ArmSince starts the budget from last, the latest activity seen before this
// tab took the session over. A zero or future last counts as now. When the
// budget has already run out the logout callback fires on the next tick.
func (t *Timer) ArmSince(last time.Time, onWarning WarningFunc, onLogout func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.Exempt {
		t.state = StateDisabled
		return
	}
	t.onWarning = onWarning
	t.onLogout = onLogout
	now := t.clock.Now()
	if last.IsZero() || last.After(now) {
		last = now
	}
	t.scheduleLocked(last, now)
}

// Lapsed reports whether a budget started at last has run out by now. It is
// always false for an exempt timer.
func (t *Timer) Lapsed(last time.Time) bool {
	if t.cfg.Exempt || last.IsZero() {
		return false
	}
	return !t.clock.Now().Before(last.Add(t.cfg.Budget))
}

// ResetOnActivity restarts the budget unless the timer is not running or the
// call is inside the activity throttle. It reports whether the budget was
// restarted.
func (t *Timer) ResetOnActivity() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.runningLocked() {
		return false
	}
	now := t.clock.Now()
	if !t.throttle.AllowN(now, 1) {
		return false
	}
	t.scheduleLocked(now, now)
	return true
}

// Extend restarts the budget without throttling. It reports false when the
// timer is not running.
func (t *Timer) Extend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.runningLocked() {
		return false
	}
	now := t.clock.Now()
	t.scheduleLocked(now, now)
	return true
}

// Disarm cancels any pending callback.
func (t *Timer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.stopLocked()
	if t.state != StateDisabled {
		t.state = StateDisarmed
	}
}

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Remaining returns the time left before logout, or zero when not running.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.runningLocked() {
		return 0
	}
	return t.remainingLocked(t.clock.Now())
}

// LastActivity returns the time the budget was last restarted.
func (t *Timer) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

func (t *Timer) runningLocked() bool {
	return t.state == StateActive || t.state == StateWarningPending
}

func (t *Timer) remainingLocked(now time.Time) time.Duration {
	left := t.lastActivity.Add(t.cfg.Budget).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

func (t *Timer) stopLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// scheduleLocked starts a budget that began at since; now is the current time.
func (t *Timer) scheduleLocked(since, now time.Time) {
	t.gen++
	gen := t.gen
	t.stopLocked()
	t.lastActivity = since
	t.state = StateActive

	elapsed := now.Sub(since)
	warnAfter := t.cfg.Budget - t.cfg.WarningLead
	if t.cfg.WarningLead <= 0 || warnAfter <= 0 {
		t.pending = t.clock.AfterFunc(max(t.cfg.Budget-elapsed, 0), func() { t.fireLogout(gen) })
		return
	}
	t.pending = t.clock.AfterFunc(max(warnAfter-elapsed, 0), func() { t.fireWarning(gen) })
}

func (t *Timer) fireWarning(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	remaining := t.remainingLocked(t.clock.Now())
	if remaining <= 0 {
		t.mu.Unlock()
		t.fireLogout(gen)
		return
	}
	t.state = StateWarningPending
	t.pending = t.clock.AfterFunc(remaining, func() { t.fireLogout(gen) })
	cb := t.onWarning
	t.mu.Unlock()

	if cb == nil {
		return
	}
	switch cb(remaining) {
	case DecisionExtend:
		t.extendIf(gen)
	case DecisionLogout:
		t.fireLogout(gen)
	}
}

func (t *Timer) extendIf(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	now := t.clock.Now()
	t.scheduleLocked(now, now)
}

func (t *Timer) fireLogout(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.gen++
	t.stopLocked()
	t.state = StateLoggedOut
	cb := t.onLogout
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}
