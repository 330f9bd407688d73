package goSession

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher hands events to the sink on its own goroutine so a slow
// sink never stalls a login or a refresh. One dispatcher serves one tab.
type auditDispatcher struct {
	sink       AuditSink
	tabID      string
	dropIfFull bool

	queue   chan AuditEvent
	stop    chan struct{}
	drained chan struct{}

	dropped atomic.Uint64
	closing atomic.Bool
	once    sync.Once
}

func newAuditDispatcher(cfg AuditConfig, tabID string, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink:       sink,
		tabID:      tabID,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan AuditEvent, cfg.BufferSize),
		stop:       make(chan struct{}),
		drained:    make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *auditDispatcher) loop() {
	defer close(d.drained)
	ctx := context.Background()

	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(ctx, ev)
		case <-d.stop:
			// Deliver whatever was queued before Close.
			for {
				select {
				case ev := <-d.queue:
					d.sink.Emit(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

// endsSession reports events that are never dropped for a full buffer. A
// sign-out missing from the trail is worse than a stalled caller.
func endsSession(eventType string) bool {
	switch eventType {
	case auditEventLogout, auditEventIdleLogout, auditEventSessionInvalid,
		auditEventRemoteLogout, auditEventRefreshDenied, auditEventTwoFactorExpired:
		return true
	}
	return false
}

// Emit queues ev, stamping the tab when the caller left it empty. With
// DropIfFull a full queue drops the event unless it ends a session; those,
// and every event without DropIfFull, wait for room, ctx or Close.
func (d *auditDispatcher) Emit(ctx context.Context, ev AuditEvent) {
	if d == nil || d.closing.Load() {
		return
	}
	if ev.TabID == "" {
		ev.TabID = d.tabID
	}

	if d.dropIfFull && !endsSession(ev.EventType) {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops intake and waits until queued events reach the sink.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		<-d.drained
	})
}

// Dropped counts events lost to a full queue or a cancelled caller.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
