package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MrEthical07/goSession/internal/clock"
	"github.com/MrEthical07/goSession/internal/logger"
)

// Transport moves envelopes between tabs. Subscribe must deliver messages to
// fn one at a time in publication order.
type Transport interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, fn func(Message)) (cancel func(), err error)
	Close() error
}

// Retainer is implemented by transports that remember the last message, so a
// tab opened late can adopt an existing session.
type Retainer interface {
	Latest(ctx context.Context) (Message, bool, error)
}

// Handler receives messages from other tabs.
type Handler func(Message)

// Options configures a [Broadcaster].
type Options struct {
	// TabID identifies this tab. A random UUID is used when empty.
	TabID  string
	Logger *slog.Logger
	Clock  clock.Clock
}

// Broadcaster publishes this tab's session events and fans other tabs'
// events out to local handlers.
type Broadcaster struct {
	transport Transport
	tabID     string
	logger    *slog.Logger
	clock     clock.Clock

	mu       sync.RWMutex
	handlers []handlerEntry
	nextID   int
	cancel   func()
	started  bool
	closed   bool
}

type handlerEntry struct {
	id int
	fn Handler
}

// New returns a Broadcaster over t. Call Start to begin receiving.
func New(t Transport, opts Options) *Broadcaster {
	if opts.TabID == "" {
		opts.TabID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Broadcaster{
		transport: t,
		tabID:     opts.TabID,
		logger:    opts.Logger,
		clock:     opts.Clock,
	}
}

// TabID returns the origin id stamped on emitted messages.
func (b *Broadcaster) TabID() string { return b.tabID }

// Start subscribes to the transport. Calling it again is a no-op.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.started {
		return nil
	}
	cancel, err := b.transport.Subscribe(ctx, b.dispatch)
	if err != nil {
		return fmt.Errorf("broadcast: subscribe: %w", err)
	}
	b.cancel = cancel
	b.started = true
	return nil
}

// Emit publishes event with payload (nil for none).
func (b *Broadcaster) Emit(ctx context.Context, event Event, payload any) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	msg := Message{
		ID:     uuid.NewString(),
		Origin: b.tabID,
		Event:  event,
		AtMS:   b.clock.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("broadcast: encode payload: %w", err)
		}
		msg.Payload = raw
	}
	if err := b.transport.Publish(ctx, msg); err != nil {
		return fmt.Errorf("broadcast: publish %s: %w", event, err)
	}
	return nil
}

// Subscribe registers h and returns a function removing it. Handlers run in
// registration order.
func (b *Broadcaster) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers = append(b.handlers, handlerEntry{id: id, fn: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, e := range b.handlers {
				if e.id == id {
					b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Latest returns the last message retained by the transport from another
// tab. It reports false when the transport does not retain or has nothing.
func (b *Broadcaster) Latest(ctx context.Context) (Message, bool) {
	r, ok := b.transport.(Retainer)
	if !ok {
		return Message{}, false
	}
	msg, ok, err := r.Latest(ctx)
	if err != nil {
		b.logger.Warn("goSession: broadcast latest failed", "err", err)
		return Message{}, false
	}
	if !ok || msg.Origin == b.tabID {
		return Message{}, false
	}
	return msg, true
}

// Close stops receiving. The transport itself is left open for its owner.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.cancel
	b.cancel = nil
	b.handlers = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (b *Broadcaster) dispatch(msg Message) {
	if msg.Origin == b.tabID || !msg.Event.Known() {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]Handler, len(b.handlers))
	for i, e := range b.handlers {
		handlers[i] = e.fn
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, msg)
	}
}

func (b *Broadcaster) invoke(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("goSession: broadcast handler panic", "event", msg.Event, "panic", r)
		}
	}()
	h(msg)
}
