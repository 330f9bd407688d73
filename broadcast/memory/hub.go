// Package memory provides an in-process broadcast transport. Every
// subscriber has its own ordered mailbox, so a publisher never waits on a
// subscriber's handler.
package memory

import (
	"context"
	"sync"

	"github.com/MrEthical07/goSession/broadcast"
)

// Hub is a broadcast.Transport and broadcast.Retainer shared by tabs of one
// process.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]*mailbox
	nextID  int
	last    *broadcast.Message
	closed  bool
	pending inflight
}

// inflight counts queued deliveries.
type inflight struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func (f *inflight) add(n int) {
	f.mu.Lock()
	f.n += n
	if f.n == 0 && f.cond != nil {
		f.cond.Broadcast()
	}
	f.mu.Unlock()
}

func (f *inflight) wait() {
	f.mu.Lock()
	if f.cond == nil {
		f.cond = sync.NewCond(&f.mu)
	}
	for f.n > 0 {
		f.cond.Wait()
	}
	f.mu.Unlock()
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*mailbox)}
}

type mailbox struct {
	hub   *Hub
	fn    func(broadcast.Message)
	mu    sync.Mutex
	queue []broadcast.Message
	wake  chan struct{}
	done  chan struct{}
}

func (h *Hub) Publish(_ context.Context, msg broadcast.Message) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return broadcast.ErrClosed
	}
	stored := msg
	h.last = &stored
	boxes := make([]*mailbox, 0, len(h.subs))
	for _, mb := range h.subs {
		boxes = append(boxes, mb)
	}
	h.pending.add(len(boxes))
	for _, mb := range boxes {
		mb.push(msg)
	}
	h.mu.Unlock()
	return nil
}

// Subscribe starts a delivery goroutine for fn that lives until cancel, ctx
// done, or Close.
func (h *Hub) Subscribe(ctx context.Context, fn func(broadcast.Message)) (func(), error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, broadcast.ErrClosed
	}
	id := h.nextID
	h.nextID++
	mb := &mailbox{
		hub:  h,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	h.subs[id] = mb
	h.mu.Unlock()

	go mb.run()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				mb.stop()
			}
			h.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-mb.done:
		}
	}()
	return cancel, nil
}

// Latest returns the last published message.
func (h *Hub) Latest(context.Context) (broadcast.Message, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return broadcast.Message{}, false, nil
	}
	return *h.last, true, nil
}

// Drain blocks until every published message has been handled or dropped.
func (h *Hub) Drain() {
	h.pending.wait()
}

// Close stops every subscriber. Undelivered messages are dropped.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, mb := range h.subs {
		delete(h.subs, id)
		mb.stop()
	}
	return nil
}

// push and stop are called with hub.mu held.
func (mb *mailbox) push(msg broadcast.Message) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, msg)
	mb.mu.Unlock()
	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

func (mb *mailbox) stop() {
	mb.mu.Lock()
	dropped := len(mb.queue)
	mb.queue = nil
	mb.mu.Unlock()
	mb.hub.pending.add(-dropped)
	close(mb.done)
}

func (mb *mailbox) run() {
	for {
		select {
		case <-mb.done:
			return
		case <-mb.wake:
		}
		for {
			mb.mu.Lock()
			if len(mb.queue) == 0 {
				mb.mu.Unlock()
				break
			}
			msg := mb.queue[0]
			mb.queue = mb.queue[1:]
			mb.mu.Unlock()

			select {
			case <-mb.done:
				mb.hub.pending.add(-1)
				return
			default:
			}
			mb.fn(msg)
			mb.hub.pending.add(-1)
		}
	}
}
