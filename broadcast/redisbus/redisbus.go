// Package redisbus carries broadcast messages over Redis pub/sub and keeps
// the last message in a key so late tabs can adopt an existing session.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/broadcast"
)

const (
	defaultChannel   = "gosession:events"
	defaultRetainTTL = 24 * time.Hour
)

// Options configures a [Bus].
type Options struct {
	// Channel is the pub/sub channel. The retained message lives at
	// Channel + ":latest".
	Channel string
	// RetainTTL bounds how long the last message is kept. Negative disables
	// retention.
	RetainTTL time.Duration
	Logger    *slog.Logger
}

// Bus is a broadcast.Transport over a go-redis client.
type Bus struct {
	redis     redis.UniversalClient
	channel   string
	latestKey string
	retainTTL time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// New returns a Bus. The client stays owned by the caller.
func New(client redis.UniversalClient, opts Options) *Bus {
	if opts.Channel == "" {
		opts.Channel = defaultChannel
	}
	if opts.RetainTTL == 0 {
		opts.RetainTTL = defaultRetainTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bus{
		redis:     client,
		channel:   opts.Channel,
		latestKey: opts.Channel + ":latest",
		retainTTL: opts.RetainTTL,
		logger:    opts.Logger,
		subs:      make(map[*redis.PubSub]struct{}),
	}
}

func (b *Bus) Publish(ctx context.Context, msg broadcast.Message) error {
	if b.isClosed() {
		return broadcast.ErrClosed
	}
	data, err := broadcast.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = b.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if b.retainTTL > 0 {
			pipe.Set(ctx, b.latestKey, data, b.retainTTL)
		}
		pipe.Publish(ctx, b.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisbus: publish: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then delivers
// messages on one goroutine until cancel, ctx done, or Close.
func (b *Bus) Subscribe(ctx context.Context, fn func(broadcast.Message)) (func(), error) {
	if b.isClosed() {
		return nil, broadcast.ErrClosed
	}
	ps := b.redis.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redisbus: subscribe: %w", err)
	}

	b.mu.Lock()
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ps)
			b.mu.Unlock()
			_ = ps.Close()
			close(done)
		})
	}

	ch := ps.Channel()
	go func() {
		for m := range ch {
			msg, err := broadcast.Unmarshal([]byte(m.Payload))
			if err != nil {
				b.logger.Warn("goSession: redisbus dropped message", "err", err)
				continue
			}
			fn(msg)
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return cancel, nil
}

// Latest returns the retained message, if any.
func (b *Bus) Latest(ctx context.Context) (broadcast.Message, bool, error) {
	if b.retainTTL <= 0 {
		return broadcast.Message{}, false, nil
	}
	data, err := b.redis.Get(ctx, b.latestKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return broadcast.Message{}, false, nil
		}
		return broadcast.Message{}, false, fmt.Errorf("redisbus: latest: %w", err)
	}
	msg, err := broadcast.Unmarshal(data)
	if err != nil {
		return broadcast.Message{}, false, nil
	}
	return msg, true, nil
}

// Close ends every subscription made through the bus.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redis.PubSub, 0, len(b.subs))
	for ps := range b.subs {
		subs = append(subs, ps)
	}
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, ps := range subs {
		if err := ps.Close(); err != nil {
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
