package goSession

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/internal/authapi"
	"github.com/MrEthical07/goSession/internal/clock"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/idle"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/transport"
	"github.com/MrEthical07/goSession/vault"
)

// Manager is the session lifecycle controller of one tab. Build one per tab
// with [New] and share it by reference; every method is safe for concurrent
// use.
//
// State-changing operations (login, step-up, logout, cross-tab events and
// the start-up restore) run one at a time. Requests and token refreshes run
// concurrently with them.
type Manager struct {
	config    Config
	logger    *slog.Logger
	clock     clock.Clock
	vault     *vault.Vault
	api       *authapi.Client
	send      transport.Transport
	limiter   *rate.Limiter
	idle      *idle.Timer
	bus       *broadcast.Broadcaster
	flows     flows.Service
	purger    CachePurger
	onWarning IdleWarningFunc
	audit     *auditDispatcher
	metrics   *Metrics

	busTransport broadcast.Transport
	ownsBus      bool

	refreshGroup singleflight.Group
	// fence drops refresh results for a session cleared mid-exchange.
	fence flows.Fence
	// sem is the one-slot operation guard.
	sem          chan struct{}
	storageDirty chan struct{}

	mu        sync.RWMutex
	state     SessionState
	user      *UserSnapshot
	challenge *pendingChallenge

	// emitMu orders state writes with their delivery to subscribers.
	emitMu  sync.Mutex
	subsMu  sync.RWMutex
	subs    []subscriber
	nextSub int

	settled   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
	started   atomic.Bool
	closed    atomic.Bool

	lifeCtx  context.Context
	cancel   context.CancelFunc
	unsubBus func()
}

type pendingChallenge struct {
	tempToken string
	method    string
	emailHint string
	expiresAt time.Time
	timer     clock.Timer
}

type subscriber struct {
	id int
	fn func(SessionChange)
}

// Start restores the starting session and begins listening to other tabs.
// Sources are tried in order: another tab's login announcement, the vault,
// then the server's cookie session. The first transition to land settles
// the tab; see [Manager.Ready].
//
// Network failures during the restore never clear a stored session.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.check(); err != nil {
		return err
	}
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	m.unsubBus = m.bus.Subscribe(m.onBroadcast)
	if err := m.bus.Start(m.lifeCtx); err != nil {
		m.settle()
		return err
	}

	watching, err := m.vault.Watch(m.lifeCtx, m.markStorageDirty)
	switch {
	case err != nil:
		m.logger.Warn("goSession: storage watch unavailable", "err", err)
	case watching:
		go m.reconcileLoop()
	}

	res := m.flows.Bootstrap(ctx)
	if res.Err != nil {
		m.logger.Warn("goSession: session restore incomplete", "source", res.Source.String(), "err", res.Err)
	}
	if res.Dropped {
		m.metricInc(MetricSessionInvalidated)
		m.emitAudit(ctx, auditEventSessionInvalid, false, "", ErrAuthRequired, nil)
	}

	if err := m.acquire(ctx); err != nil {
		m.settle()
		return err
	}
	defer m.release()

	if m.settled.Load() {
		return nil
	}
	if res.Source == flows.BootstrapNone {
		m.publish(SessionChange{
			Kind:     ChangeNoSession,
			State:    StateUnauthenticated,
			Previous: StateUnauthenticated,
			Source:   SourceLocal,
			At:       m.clock.Now(),
		})
		m.settle()
		return nil
	}
	if last, ok := m.vault.LastActivity(ctx); ok && m.idle.Lapsed(last) {
		// The session went idle while no tab was open.
		m.logoutLocked(ctx, ReasonIdle)
		m.publish(SessionChange{
			Kind:     ChangeLogout,
			State:    StateUnauthenticated,
			Previous: StateUnauthenticated,
			Reason:   ReasonIdle,
			Source:   SourceLocal,
			At:       m.clock.Now(),
		})
		return nil
	}
	m.adopt(res.Record, ChangeRestored, bootstrapSource(res.Source))
	return nil
}

// Ready is closed once the starting session is known.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Loading reports whether the starting session is still being resolved.
func (m *Manager) Loading() bool {
	return !m.settled.Load()
}

// Close stops timers and listeners. The vault is left as is so the session
// survives a restart.
func (m *Manager) Close() {
	if m == nil || !m.closed.CompareAndSwap(false, true) {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.unsubBus != nil {
		m.unsubBus()
	}
	if m.bus != nil {
		_ = m.bus.Close()
	}
	if m.ownsBus && m.busTransport != nil {
		_ = m.busTransport.Close()
	}
	if m.idle != nil {
		m.idle.Disarm()
	}

	m.mu.Lock()
	if m.challenge != nil && m.challenge.timer != nil {
		m.challenge.timer.Stop()
	}
	m.mu.Unlock()

	m.settle()
	if m.audit != nil {
		m.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (m *Manager) AuditDropped() uint64 {
	if m == nil || m.audit == nil {
		return 0
	}
	return m.audit.Dropped()
}

func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return m.metrics.Snapshot()
}

func (m *Manager) metricInc(id MetricID) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.Inc(id)
}

// TabID identifies this tab on the broadcast bus.
func (m *Manager) TabID() string {
	if m == nil || m.bus == nil {
		return ""
	}
	return m.bus.TabID()
}

// State returns the tab's current state.
func (m *Manager) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// AuthenticatedSnapshot returns a copy of the signed-in user, or nil when the
// tab is not authenticated. It never blocks on I/O.
func (m *Manager) AuthenticatedSnapshot() *UserSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticated {
		return nil
	}
	if m.user == nil {
		return &UserSnapshot{}
	}
	return m.user.Clone()
}

// PendingTempToken returns the open step-up challenge's token, if any.
func (m *Manager) PendingTempToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.challenge == nil {
		return ""
	}
	return m.challenge.tempToken
}

// SessionInfo returns a point-in-time view of the tab.
func (m *Manager) SessionInfo(ctx context.Context) SessionInfo {
	info := SessionInfo{
		TabID:         m.TabID(),
		Loading:       m.Loading(),
		IdleState:     m.idle.State().String(),
		IdleRemaining: m.idle.Remaining(),
		IdleDisabled:  m.config.Idle.Exempt,
	}

	m.mu.RLock()
	info.State = m.state
	if m.user != nil {
		info.User = m.user.Clone()
	}
	if m.challenge != nil {
		info.ChallengeExpires = m.challenge.expiresAt
	}
	m.mu.RUnlock()

	if info.State == StateAuthenticated {
		if rec, ok := m.vault.Read(ctx); ok {
			info.AccessExpiresAt = rec.Credentials.ExpiresAt
			info.CookieSession = !rec.Credentials.HasAccess()
		}
	}
	return info
}

// SubscribeToSessionChanges registers h for every transition of this tab.
// Handlers run synchronously, in transition order, on the goroutine that made
// the transition. They may read state but must not call Login, Logout or
// other state-changing methods without starting a goroutine.
func (m *Manager) SubscribeToSessionChanges(h func(SessionChange)) (unsubscribe func()) {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs = append(m.subs, subscriber{id: id, fn: h})
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			defer m.subsMu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *Manager) check() error {
	if m == nil || !m.flows.Initialized() {
		return ErrManagerNotReady
	}
	if m.closed.Load() {
		return ErrManagerClosed
	}
	return nil
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.lifeCtx.Done():
		return ErrManagerClosed
	}
}

func (m *Manager) release() {
	<-m.sem
}

func (m *Manager) settle() {
	if m.settled.CompareAndSwap(false, true) {
		m.readyOnce.Do(func() { close(m.ready) })
	}
}

// setState moves the tab to next and delivers change. Repeated
// unauthenticated states are not delivered. It reports whether a change was
// delivered.
func (m *Manager) setState(next SessionState, user *UserSnapshot, change SessionChange) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	prev := m.state
	if prev == StateUnauthenticated && next == StateUnauthenticated {
		m.mu.Unlock()
		return false
	}
	m.state = next
	if next == StateAuthenticated {
		m.user = user.Clone()
	} else {
		m.user = nil
	}
	if next != StatePendingTwoFactor && m.challenge != nil {
		if m.challenge.timer != nil {
			m.challenge.timer.Stop()
		}
		m.challenge = nil
	}
	m.mu.Unlock()

	change.State = next
	change.Previous = prev
	if next == StateAuthenticated {
		change.User = user.Clone()
	}
	if change.At.IsZero() {
		change.At = m.clock.Now()
	}
	m.deliver(change)
	return true
}

// publish delivers a change that does not move the state.
func (m *Manager) publish(change SessionChange) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	m.deliver(change)
}

func (m *Manager) deliver(change SessionChange) {
	m.subsMu.RLock()
	subs := make([]func(SessionChange), len(m.subs))
	for i, s := range m.subs {
		subs[i] = s.fn
	}
	m.subsMu.RUnlock()

	for _, fn := range subs {
		m.invoke(fn, change)
	}
}

func (m *Manager) invoke(fn func(SessionChange), change SessionChange) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("goSession: session change handler panic", "kind", change.Kind, "panic", r)
		}
	}()
	fn(change)
}

// adopt makes rec the tab's session and starts the idle budget.
//
// A fresh login starts the idle budget now. A restored session keeps the
// budget it had: it runs from the last activity any tab recorded.
func (m *Manager) adopt(rec vault.Record, kind ChangeKind, source ChangeSource) {
	switch {
	case kind != ChangeLogin:
		last, _ := m.vault.LastActivity(m.lifeCtx)
		m.idle.ArmSince(last, m.onIdleWarning, m.onIdleLogout)
	case source == SourceLocal:
		m.touchActivity(m.lifeCtx)
		fallthrough
	default:
		m.idle.Arm(m.onIdleWarning, m.onIdleLogout)
	}
	m.setState(StateAuthenticated, rec.User, SessionChange{Kind: kind, Source: source})
	m.settle()
}

// touchActivity persists now as the session's last activity so a restart
// does not hand out a fresh idle budget.
func (m *Manager) touchActivity(ctx context.Context) {
	if m.config.Idle.Exempt {
		return
	}
	if err := m.vault.TouchActivity(ctx, m.clock.Now()); err != nil {
		m.logger.Warn("goSession: recording activity failed", "err", err)
	}
}

// toUnauthenticated ends the tab's session view. It reports whether the tab
// was signed in or waiting on a challenge.
func (m *Manager) toUnauthenticated(reason LogoutReason, source ChangeSource) bool {
	m.idle.Disarm()
	moved := m.setState(StateUnauthenticated, nil, SessionChange{Kind: ChangeLogout, Reason: reason, Source: source})
	m.settle()
	return moved
}

func (m *Manager) currentUserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return ""
	}
	return m.user.ID
}

func bootstrapSource(s flows.BootstrapSource) ChangeSource {
	switch s {
	case flows.BootstrapBroadcast:
		return SourceBroadcast
	case flows.BootstrapServer:
		return SourceServer
	default:
		return SourceVault
	}
}
