// Package broadcast implements a bounded, ring-style publish-once /
// subscribe-many primitive: every subscriber gets its own bounded
// channel, publishing is non-blocking, and a subscriber that falls
// behind loses messages rather than stalling the publisher. It
// observes the loss as ErrLagged on its next Recv.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrLagged is returned by Recv when this subscriber missed one or more
// published values because its queue was full.
var ErrLagged = errors.New("broadcast: subscriber lagged, messages dropped")

// ErrClosed is returned by Recv once the hub has been closed and the
// subscriber has drained any values published before closing.
var ErrClosed = errors.New("broadcast: hub closed")

// Hub fans a stream of values of type T out to any number of
// subscribers. The zero value is not usable; construct with NewHub.
type Hub[T any] struct {
	capacity int

	mu     sync.Mutex
	subs   map[uint64]*subscriber[T]
	nextID uint64
	closed bool
}

type subscriber[T any] struct {
	ch     chan T
	lagged atomic.Bool
}

// NewHub creates a Hub whose subscribers each buffer up to capacity
// unreceived values before publishes start dropping for them.
func NewHub[T any](capacity int) *Hub[T] {
	return &Hub[T]{capacity: capacity, subs: make(map[uint64]*subscriber[T])}
}

// Subscription is a single subscriber's handle on a Hub.
type Subscription[T any] struct {
	hub *Hub[T]
	id  uint64
	sub *subscriber[T]
}

// Subscribe registers a new subscriber and returns its handle. Publishes
// that happen after Subscribe returns are visible to it; nothing
// published before Subscribe is replayed.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	sub := &subscriber[T]{ch: make(chan T, h.capacity)}
	if h.closed {
		close(sub.ch)
	} else {
		h.subs[id] = sub
	}
	return &Subscription[T]{hub: h, id: id, sub: sub}
}

// Publish delivers v to every current subscriber. Delivery is
// non-blocking per subscriber: a subscriber whose queue is full has v
// dropped for it and is marked lagged, instead of blocking the
// publisher or any other subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- v:
		default:
			sub.lagged.Store(true)
		}
	}
}

// Close shuts down the hub. Subscribers drain any buffered values, then
// every subsequent Recv returns ErrClosed.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subs {
		close(sub.ch)
	}
}

// Recv returns the next value for this subscriber, ErrLagged if values
// were dropped since the last Recv, or ErrClosed once the hub is closed
// and drained. It also returns ctx.Err() if ctx is canceled first.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	if s.sub.lagged.Swap(false) {
		return zero, ErrLagged
	}
	select {
	case v, ok := <-s.sub.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Unsubscribe removes this subscriber from the hub. Safe to call more
// than once.
func (s *Subscription[T]) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s.id]; ok {
		delete(s.hub.subs, s.id)
	}
}
