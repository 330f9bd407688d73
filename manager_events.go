package goSession

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/internal/authapi"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/idle"
	"github.com/MrEthical07/goSession/vault"
)

/*
====================================
VAULT
====================================
*/

// onVaultChange maps local vault writes to cross-tab events. It runs on the
// writer's goroutine and must not take the operation slot.
func (m *Manager) onVaultChange(change vault.Change) {
	switch change.Kind {
	case vault.Stored:
		switch change.Cause {
		case vault.CauseLogin:
			m.emit(broadcast.EventLogin, broadcast.NewLoginPayload(change.Record))
		case vault.CauseRefresh:
			m.emit(broadcast.EventSessionRefreshed, broadcast.NewLoginPayload(change.Record))
			if m.State() == StateAuthenticated {
				m.setState(StateAuthenticated, change.Record.User, SessionChange{Kind: ChangeRefreshed, Source: SourceVault})
			}
		}

	case vault.Cleared:
		switch change.Cause {
		case vault.CauseLogout:
			m.emit(broadcast.EventLogout, broadcast.LogoutPayload{Reason: string(ReasonExplicit)})
		case vault.CauseIdle:
			m.emit(broadcast.EventLogout, broadcast.LogoutPayload{Reason: string(ReasonIdle)})
		case vault.CauseInvalid:
			userID := m.currentUserID()
			m.emit(broadcast.EventSessionInvalid, nil)
			if m.toUnauthenticated(ReasonServerRejected, SourceVault) {
				m.metricInc(MetricSessionInvalidated)
				m.emitAudit(m.lifeCtx, auditEventSessionInvalid, false, userID, ErrRefreshDenied, nil)
			}
		}
	}
}

func (m *Manager) onVaultDiscard(err error) {
	m.metricInc(MetricVaultDiscarded)
	m.logger.Warn("goSession: discarded unreadable session record", "err", err)
	m.emitAudit(m.lifeCtx, auditEventVaultDiscarded, false, "", err, nil)
}

// markStorageDirty runs on the storage's notification goroutine, which may be
// another tab's writer. It only signals the reconcile loop.
func (m *Manager) markStorageDirty() {
	select {
	case m.storageDirty <- struct{}{}:
	default:
	}
}

func (m *Manager) reconcileLoop() {
	for {
		select {
		case <-m.lifeCtx.Done():
			return
		case <-m.storageDirty:
			m.reconcileStorage()
		}
	}
}

// reconcileStorage aligns the tab with a record another process wrote or
// removed. Nothing is re-broadcast.
func (m *Manager) reconcileStorage() {
	ctx := m.lifeCtx
	if err := m.acquire(ctx); err != nil {
		return
	}
	defer m.release()

	rec, ok := m.vault.Read(ctx)
	state := m.State()
	switch {
	case !ok && state == StateAuthenticated:
		m.fence.Bump()
		if m.toUnauthenticated(ReasonOtherTab, SourceStorage) {
			m.metricInc(MetricRemoteLogout)
			m.emitAudit(ctx, auditEventRemoteLogout, true, "", nil, func() map[string]string {
				return map[string]string{"source": string(SourceStorage)}
			})
		}
	case ok && state != StateAuthenticated && flows.Usable(rec, m.clock.Now()):
		m.adopt(rec, ChangeRestored, SourceStorage)
	case ok && state == StateAuthenticated && userChanged(m.AuthenticatedSnapshot(), rec.User):
		m.setState(StateAuthenticated, rec.User, SessionChange{Kind: ChangeProfile, Source: SourceStorage})
	}
}

func userChanged(cur, next *UserSnapshot) bool {
	if next == nil {
		return false
	}
	return cur == nil || *cur != *next
}

/*
====================================
BROADCAST
====================================
*/

func (m *Manager) emit(event broadcast.Event, payload any) {
	if err := m.bus.Emit(m.lifeCtx, event, payload); err != nil && !errors.Is(err, broadcast.ErrClosed) {
		m.logger.Warn("goSession: broadcast failed", "event", string(event), "err", err)
	}
}

func (m *Manager) onBroadcast(msg broadcast.Message) {
	switch msg.Event {
	case broadcast.EventLogin:
		m.onRemoteLogin(msg)
	case broadcast.EventLogout:
		var p broadcast.LogoutPayload
		_ = msg.Decode(&p)
		reason := ReasonOtherTab
		if p.Reason == string(ReasonIdle) {
			reason = ReasonIdle
		}
		m.onRemoteLogout(reason)
	case broadcast.EventSessionInvalid:
		m.onRemoteLogout(ReasonServerRejected)
	case broadcast.EventSessionExtended:
		m.onRemoteExtended()
	case broadcast.EventSessionRefreshed:
		m.onRemoteRefreshed(msg)
	}
}

func (m *Manager) onRemoteLogin(msg broadcast.Message) {
	var p broadcast.LoginPayload
	if err := msg.Decode(&p); err != nil {
		m.logger.Warn("goSession: unreadable login broadcast", "origin", msg.Origin, "err", err)
		return
	}
	rec := p.Record()
	if rec.Empty() {
		return
	}

	ctx := m.lifeCtx
	if err := m.acquire(ctx); err != nil {
		return
	}
	defer m.release()

	if !m.storeIfNewer(ctx, rec) {
		if cur, ok := m.vault.Read(ctx); ok && flows.Usable(cur, m.clock.Now()) {
			rec = cur
		}
	}
	m.adopt(rec, ChangeLogin, SourceBroadcast)

	userID := ""
	if rec.User != nil {
		userID = rec.User.ID
	}
	m.metricInc(MetricRemoteLogin)
	m.emitAudit(ctx, auditEventRemoteLogin, true, userID, nil, func() map[string]string {
		return map[string]string{"origin": msg.Origin}
	})
}

func (m *Manager) onRemoteLogout(reason LogoutReason) {
	ctx := m.lifeCtx
	if err := m.acquire(ctx); err != nil {
		return
	}
	defer m.release()

	userID := m.currentUserID()
	m.fence.Bump()
	if err := m.vault.Clear(ctx, vault.CauseSync); err != nil {
		m.logger.Warn("goSession: vault clear after remote logout failed", "err", err)
	}
	if m.toUnauthenticated(reason, SourceBroadcast) {
		m.metricInc(MetricRemoteLogout)
		m.emitAudit(ctx, auditEventRemoteLogout, true, userID, nil, func() map[string]string {
			return map[string]string{"reason": string(reason)}
		})
	}
}

// onRemoteRefreshed picks up credentials another tab rotated. Tabs on shared
// storage already hold them; the others would otherwise keep a refresh token
// the server no longer honors.
func (m *Manager) onRemoteRefreshed(msg broadcast.Message) {
	var p broadcast.LoginPayload
	if err := msg.Decode(&p); err != nil {
		m.logger.Warn("goSession: unreadable refresh broadcast", "origin", msg.Origin, "err", err)
		return
	}
	rec := p.Record()
	if rec.Empty() {
		return
	}

	ctx := m.lifeCtx
	if err := m.acquire(ctx); err != nil {
		return
	}
	defer m.release()

	if m.State() != StateAuthenticated || !m.storeIfNewer(ctx, rec) {
		return
	}
	m.setState(StateAuthenticated, rec.User, SessionChange{Kind: ChangeRefreshed, Source: SourceBroadcast})
}

// storeIfNewer writes an announced record unless the vault already holds a
// usable one at least as new. It runs under the refresh fence so it cannot
// interleave with a local refresh write. It reports whether the vault
// changed.
func (m *Manager) storeIfNewer(ctx context.Context, rec vault.Record) bool {
	stored := false
	_, err := m.fence.Commit(m.fence.Epoch(), func() error {
		if cur, ok := m.vault.Read(ctx); ok && flows.Usable(cur, m.clock.Now()) && !rec.StoredAt.After(cur.StoredAt) {
			return nil
		}
		if err := m.vault.Store(ctx, rec, vault.CauseSync); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		m.logger.Warn("goSession: storing announced session failed", "err", err)
	}
	return stored
}

func (m *Manager) onRemoteExtended() {
	ctx := m.lifeCtx
	if err := m.acquire(ctx); err != nil {
		return
	}
	defer m.release()

	if m.State() != StateAuthenticated || !m.idle.Extend() {
		return
	}
	m.touchActivity(ctx)
	state := m.State()
	m.publish(SessionChange{
		Kind:     ChangeExtended,
		State:    state,
		Previous: state,
		User:     m.AuthenticatedSnapshot(),
		Source:   SourceBroadcast,
		At:       m.clock.Now(),
	})
}

/*
====================================
BOOTSTRAP
====================================
*/

// announcedSession returns the session carried by the last login or refresh
// another tab announced, if that is the bus's latest word.
func (m *Manager) announcedSession(ctx context.Context) (vault.Record, bool) {
	msg, ok := m.bus.Latest(ctx)
	if !ok || (msg.Event != broadcast.EventLogin && msg.Event != broadcast.EventSessionRefreshed) {
		return vault.Record{}, false
	}
	var p broadcast.LoginPayload
	if err := msg.Decode(&p); err != nil {
		return vault.Record{}, false
	}
	rec := p.Record()
	return rec, !rec.Empty()
}

// fetchCookieUser asks the server for a cookie-backed session. A rejection
// means there is none.
func (m *Manager) fetchCookieUser(ctx context.Context) (*vault.UserSnapshot, error) {
	user, err := m.api.Me(ctx, "")
	if err != nil {
		if se, ok := authapi.AsStatus(err); ok && se.Unauthorized() {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

/*
====================================
IDLE
====================================
*/

func (m *Manager) onIdleWarning(remaining time.Duration) idle.Decision {
	m.metricInc(MetricIdleWarning)
	if m.onWarning == nil {
		return idle.DecisionWait
	}
	switch m.onWarning(remaining) {
	case IdleExtend:
		m.announceExtension(m.lifeCtx, SourceLocal)
		return idle.DecisionExtend
	case IdleLogout:
		return idle.DecisionLogout
	default:
		return idle.DecisionWait
	}
}

func (m *Manager) onIdleLogout() {
	m.Logout(m.lifeCtx, ReasonIdle)
}
