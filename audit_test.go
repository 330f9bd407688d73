package goSession

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &captureSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func auditConfig(enabled bool, buffer int, dropIfFull bool) Config {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = enabled
	cfg.Audit.BufferSize = buffer
	cfg.Audit.DropIfFull = dropIfFull
	return cfg
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	h := newHarness(t)
	sink := &countingSink{}
	m := h.build(h.builder().WithConfig(auditConfig(false, 16, true)).WithAuditSink(sink))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	_, _ = m.Login(context.Background(), "ann", "wrong-password")
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditEnabledSinkReceivesEventWithFields(t *testing.T) {
	h := newHarness(t)
	sink := newCaptureSink(8)
	m := h.build(h.builder().WithConfig(auditConfig(true, 16, true)).WithAuditSink(sink))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	_, _ = m.Login(context.Background(), "ann", "super-secret-password")

	select {
	case ev := <-sink.events:
		if ev.EventType != auditEventLoginFailure {
			t.Fatalf("expected %s, got %q", auditEventLoginFailure, ev.EventType)
		}
		if ev.TabID != m.TabID() {
			t.Fatalf("expected tab %q, got %q", m.TabID(), ev.TabID)
		}
		if ev.Error != string(auditErrInvalidCredentials) {
			t.Fatalf("expected error code %q, got %q", auditErrInvalidCredentials, ev.Error)
		}
		if !ev.Timestamp.Equal(t0) {
			t.Fatalf("expected clock timestamp, got %v", ev.Timestamp)
		}
		for _, v := range ev.Metadata {
			if v == "super-secret-password" {
				t.Fatal("sensitive password leaked in metadata")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected audit event to be received")
	}
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, "tab-1", sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, "tab-1", sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditSessionEndingEventsWaitWhenFull(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, "tab-1", sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: auditEventRefreshSuccess})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: auditEventRefreshSuccess})
	before := dispatcher.Dropped()

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: auditEventLogout})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected logout event to wait for room")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected logout event to be queued once room was available")
	}
	if got := dispatcher.Dropped(); got != before {
		t.Fatalf("expected logout not to be dropped, drops went %d -> %d", before, got)
	}
}

func TestAuditDispatcherStampsTabAndDrainsOnClose(t *testing.T) {
	sink := newCaptureSink(4)
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
	}, "tab-9", sink)

	dispatcher.Emit(context.Background(), AuditEvent{EventType: auditEventLoginSuccess})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: auditEventLogout, TabID: "other"})
	dispatcher.Close()

	first := <-sink.events
	second := <-sink.events
	if first.TabID != "tab-9" {
		t.Fatalf("expected stamped tab id, got %q", first.TabID)
	}
	if second.TabID != "other" {
		t.Fatalf("expected caller tab id to be kept, got %q", second.TabID)
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventLoginSuccess,
		UserID:    "u1",
		TabID:     "tab-1",
		Success:   true,
	}
	sink.Emit(context.Background(), event)

	if !buf.Contains("login_success") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains("\"user_id\":\"u1\"") {
		t.Fatal("expected JSON log line to contain user id")
	}
}

func TestAuditSlogSinkLogsFailuresAtWarn(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventRefreshDenied,
		UserID:    "u1",
		Success:   false,
		Metadata:  map[string]string{"reason": "server_rejected"},
	})

	line := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"event":"refresh_denied"`, `"user_id":"u1"`, `"reason":"server_rejected"`, `"component":"audit"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %s in %s", want, line)
		}
	}
}

func TestAuditMultiSinkFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	var seen []string
	sink := MultiSink{a, nil, b, AuditSinkFunc(func(_ context.Context, ev AuditEvent) {
		seen = append(seen, ev.EventType)
	})}

	sink.Emit(context.Background(), AuditEvent{EventType: auditEventLogout})
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventIdleLogout})

	if a.Count() != 2 || b.Count() != 2 {
		t.Fatalf("expected both sinks to see 2 events, got %d and %d", a.Count(), b.Count())
	}
	if strings.Join(seen, ",") != "logout,idle_logout" {
		t.Fatalf("unexpected order %v", seen)
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, "tab-1", &countingSink{})

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	h := newHarness(t)
	sink := newCaptureSink(32)
	m := h.build(h.builder().WithConfig(auditConfig(true, 32, false)).WithAuditSink(sink))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	ctx := context.Background()

	sensitivePassword := "pw"
	if _, err := m.Login(ctx, "ann", sensitivePassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	h.srv.RevokeAccess()
	if _, err := m.ExecuteAuthenticated(ctx, get("/api/orders")); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	rec, ok := m.vault.Read(ctx)
	if !ok {
		t.Fatal("expected stored session")
	}
	m.Logout(ctx, "")

	secretNeedles := []string{
		"password=" + sensitivePassword,
		rec.Credentials.AccessToken,
		rec.Credentials.RefreshToken,
	}

	// Collect a bounded number of audit events generated by the operations above.
	events := make([]AuditEvent, 0, 8)
	timeout := time.After(2 * time.Second)
collectLoop:
	for len(events) < 3 {
		select {
		case ev := <-sink.events:
			events = append(events, ev)
		case <-timeout:
			break collectLoop
		}
	}

	if len(events) < 3 {
		t.Fatalf("expected login, refresh and logout events, got %d", len(events))
	}

	for _, ev := range events {
		for _, needle := range secretNeedles {
			if needle == "" {
				continue
			}
			if stringContains(ev.Error, needle) {
				t.Fatalf("sensitive value leaked in audit error field: %q", needle)
			}
			for k, v := range ev.Metadata {
				if stringContains(k, needle) || stringContains(v, needle) {
					t.Fatalf("sensitive value leaked in audit metadata: %q", needle)
				}
			}
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return stringContains(string(b.buf), v)
}

func stringContains(s, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	if len(sub) > len(s) {
		return false
	}
	for i := 0; i <= len(s)-len(sub); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
