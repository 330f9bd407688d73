package broadcast_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/broadcast/memory"
	"github.com/MrEthical07/goSession/vault"
)

type recorder struct {
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (r *recorder) handle(m broadcast.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) events() []broadcast.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]broadcast.Event, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Event
	}
	return out
}

func newTab(t *testing.T, hub *memory.Hub, id string) (*broadcast.Broadcaster, *recorder) {
	t.Helper()
	b := broadcast.New(hub, broadcast.Options{TabID: id})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start %s: %v", id, err)
	}
	t.Cleanup(func() { _ = b.Close() })
	rec := &recorder{}
	b.Subscribe(rec.handle)
	return b, rec
}

func TestBroadcasterDropsOwnOrigin(t *testing.T) {
	hub := memory.NewHub()
	defer hub.Close()
	a, recA := newTab(t, hub, "tab-a")
	_, recB := newTab(t, hub, "tab-b")

	if err := a.Emit(context.Background(), broadcast.EventLogout, broadcast.LogoutPayload{Reason: "explicit"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	hub.Drain()

	if got := recA.events(); len(got) != 0 {
		t.Fatalf("origin tab received its own event: %v", got)
	}
	got := recB.events()
	if len(got) != 1 || got[0] != broadcast.EventLogout {
		t.Fatalf("tab-b events = %v", got)
	}

	var p broadcast.LogoutPayload
	if err := recB.msgs[0].Decode(&p); err != nil || p.Reason != "explicit" {
		t.Fatalf("payload = %+v, err %v", p, err)
	}
}

func TestBroadcasterPreservesOrder(t *testing.T) {
	hub := memory.NewHub()
	defer hub.Close()
	a, _ := newTab(t, hub, "tab-a")
	_, recB := newTab(t, hub, "tab-b")

	ctx := context.Background()
	seq := []broadcast.Event{
		broadcast.EventLogin,
		broadcast.EventSessionExtended,
		broadcast.EventSessionExtended,
		broadcast.EventLogout,
	}
	for _, ev := range seq {
		if err := a.Emit(ctx, ev, nil); err != nil {
			t.Fatalf("emit %s: %v", ev, err)
		}
	}
	hub.Drain()

	got := recB.events()
	if len(got) != len(seq) {
		t.Fatalf("got %d events, want %d", len(got), len(seq))
	}
	for i := range seq {
		if got[i] != seq[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], seq[i])
		}
	}
}

func TestBroadcasterLatest(t *testing.T) {
	hub := memory.NewHub()
	defer hub.Close()
	a, _ := newTab(t, hub, "tab-a")

	expires := time.UnixMilli(1_900_000_000_000)
	rec := vault.Record{
		Credentials: vault.CredentialSet{AccessToken: "at", RefreshToken: "rt", ExpiresAt: expires},
		User:        &vault.UserSnapshot{ID: "u1", Email: "a@example.com"},
	}
	if err := a.Emit(context.Background(), broadcast.EventLogin, broadcast.NewLoginPayload(rec)); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if _, ok := a.Latest(context.Background()); ok {
		t.Fatalf("own retained message must not be reported")
	}

	late := broadcast.New(hub, broadcast.Options{TabID: "tab-late"})
	msg, ok := late.Latest(context.Background())
	if !ok || msg.Event != broadcast.EventLogin {
		t.Fatalf("latest = %+v, %v", msg, ok)
	}
	var p broadcast.LoginPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := p.Record()
	if got.Credentials.AccessToken != "at" || !got.Credentials.ExpiresAt.Equal(expires) || got.User.ID != "u1" {
		t.Fatalf("record = %+v", got)
	}
}

func TestBroadcasterLatestRefreshSnapshot(t *testing.T) {
	hub := memory.NewHub()
	defer hub.Close()
	a, _ := newTab(t, hub, "tab-a")
	ctx := context.Background()

	stored := time.UnixMilli(1_800_000_000_000)
	login := vault.Record{
		Credentials: vault.CredentialSet{AccessToken: "at1", RefreshToken: "rt1", ExpiresAt: stored.Add(time.Hour)},
		StoredAt:    stored,
	}
	rotated := vault.Record{
		Credentials: vault.CredentialSet{AccessToken: "at2", RefreshToken: "rt2", ExpiresAt: stored.Add(2 * time.Hour)},
		StoredAt:    stored.Add(time.Minute),
	}
	if err := a.Emit(ctx, broadcast.EventLogin, broadcast.NewLoginPayload(login)); err != nil {
		t.Fatalf("emit login: %v", err)
	}
	if err := a.Emit(ctx, broadcast.EventSessionRefreshed, broadcast.NewLoginPayload(rotated)); err != nil {
		t.Fatalf("emit refresh: %v", err)
	}

	late := broadcast.New(hub, broadcast.Options{TabID: "tab-late"})
	msg, ok := late.Latest(ctx)
	if !ok || msg.Event != broadcast.EventSessionRefreshed {
		t.Fatalf("latest = %+v, %v", msg, ok)
	}
	var p broadcast.LoginPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := p.Record()
	if got.Credentials.RefreshToken != "rt2" || !got.StoredAt.Equal(rotated.StoredAt) {
		t.Fatalf("record = %+v", got)
	}
}

func TestBroadcasterUnsubscribeAndClose(t *testing.T) {
	hub := memory.NewHub()
	defer hub.Close()
	a, _ := newTab(t, hub, "tab-a")
	b := broadcast.New(hub, broadcast.Options{TabID: "tab-b"})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec := &recorder{}
	unsubscribe := b.Subscribe(rec.handle)
	unsubscribe()
	unsubscribe()

	ctx := context.Background()
	_ = a.Emit(ctx, broadcast.EventLogin, nil)
	hub.Drain()
	if len(rec.events()) != 0 {
		t.Fatalf("unsubscribed handler was called")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Emit(ctx, broadcast.EventLogout, nil); err == nil {
		t.Fatalf("emit after close should fail")
	}
}

func TestBroadcasterHandlerPanicIsContained(t *testing.T) {
	hub := memory.NewHub()
	defer hub.Close()
	a, _ := newTab(t, hub, "tab-a")
	b, recB := newTab(t, hub, "tab-b")
	b.Subscribe(func(broadcast.Message) { panic("boom") })
	after := &recorder{}
	b.Subscribe(after.handle)

	_ = a.Emit(context.Background(), broadcast.EventSessionInvalid, nil)
	hub.Drain()

	if len(recB.events()) != 1 || len(after.events()) != 1 {
		t.Fatalf("handlers around a panicking one must still run")
	}
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"id":"1","event":"login","at_ms":1}`,
		`{"id":"1","origin":"x","event":"reboot","at_ms":1}`,
	}
	for _, c := range cases {
		if _, err := broadcast.Unmarshal([]byte(c)); err == nil {
			t.Fatalf("Unmarshal(%q) should fail", c)
		}
	}

	if _, err := broadcast.Unmarshal([]byte(`{"id":"1","origin":"x","event":"session-refreshed","at_ms":1}`)); err != nil {
		t.Fatalf("session-refreshed rejected: %v", err)
	}

	data, err := broadcast.Marshal(broadcast.Message{ID: "1", Origin: "x", Event: broadcast.EventLogin, AtMS: 5})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m, err := broadcast.Unmarshal(data)
	if err != nil || m.Event != broadcast.EventLogin || m.At().UnixMilli() != 5 {
		t.Fatalf("round trip = %+v, %v", m, err)
	}
}
