// Package natsbus carries broadcast messages over a NATS core subject. NATS
// core has no retention, so Latest is not offered.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/internal/logger"
)

const defaultSubject = "gosession.events"

// Bus is a broadcast.Transport over a NATS connection.
type Bus struct {
	conn    *nats.Conn
	subject string
	owned   bool
	logger  *slog.Logger

	mu     sync.Mutex
	subs   map[*nats.Subscription]struct{}
	closed bool
}

// New returns a Bus on subject using conn, which stays owned by the caller.
func New(conn *nats.Conn, subject string, log *slog.Logger) *Bus {
	if subject == "" {
		subject = defaultSubject
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Bus{
		conn:    conn,
		subject: subject,
		logger:  log,
		subs:    make(map[*nats.Subscription]struct{}),
	}
}

// Connect dials url and returns a Bus that closes the connection on Close.
func Connect(url, subject string, log *slog.Logger, opts ...nats.Option) (*Bus, error) {
	opts = append([]nats.Option{nats.Name("goSession")}, opts...)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	b := New(conn, subject, log)
	b.owned = true
	return b, nil
}

func (b *Bus) Publish(_ context.Context, msg broadcast.Message) error {
	if b.isClosed() {
		return broadcast.ErrClosed
	}
	data, err := broadcast.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("natsbus: publish: %w", err)
	}
	return nil
}

// Subscribe delivers messages on the subscription's goroutine, which NATS
// runs serially per subscription.
func (b *Bus) Subscribe(ctx context.Context, fn func(broadcast.Message)) (func(), error) {
	if b.isClosed() {
		return nil, broadcast.ErrClosed
	}
	sub, err := b.conn.Subscribe(b.subject, func(m *nats.Msg) {
		msg, err := broadcast.Unmarshal(m.Data)
		if err != nil {
			b.logger.Warn("goSession: natsbus dropped message", "err", err)
			return
		}
		fn(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("natsbus: subscribe: %w", err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("natsbus: flush: %w", err)
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			_ = sub.Unsubscribe()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return cancel, nil
}

// Close unsubscribes everything and, when the bus dialed the connection,
// drains it.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*nats.Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	if b.owned {
		if err := b.conn.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
