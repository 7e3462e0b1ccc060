// Package bus provides a non-blocking publish/subscribe fan-out for
// immutable state snapshots. The publisher is never blocked by a slow or
// stalled subscriber: each subscriber has its own bounded queue with a
// drop-oldest policy.
package bus

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
)

// DefaultQueueDepth is the per-subscriber queue bound.
const DefaultQueueDepth = 8

// Bus fans values of type T out to any number of subscribers.
type Bus[T any] struct {
	depth int

	mu          sync.Mutex
	subscribers map[string]chan T
	closed      bool

	drops atomic.Uint64
}

// New creates a bus with the given per-subscriber queue depth. Depths
// below one fall back to DefaultQueueDepth.
func New[T any](depth int) *Bus[T] {
	if depth < 1 {
		depth = DefaultQueueDepth
	}
	return &Bus[T]{
		depth:       depth,
		subscribers: make(map[string]chan T),
	}
}

// randomID generates a random subscriber ID (8 byte random hex value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber and returns its id and receive
// channel. The channel is closed on Unsubscribe or Close.
func (b *Bus[T]) Subscribe() (string, <-chan T) {
	id := randomID()
	ch := make(chan T, b.depth)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers v to every subscriber without blocking. When a
// subscriber's queue is full the oldest queued value is dropped to make
// room, so a stalled consumer only ever loses its own history.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- v:
			continue
		default:
		}
		// Queue full: drop the oldest entry, then retry once. The
		// second send can only fail if the subscriber raced a drain in
		// between, in which case the value is dropped instead.
		select {
		case <-ch:
			b.drops.Add(1)
		default:
		}
		select {
		case ch <- v:
		default:
			b.drops.Add(1)
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Drops returns the total number of values dropped across all
// subscribers since the bus was created.
func (b *Bus[T]) Drops() uint64 {
	return b.drops.Load()
}

// Close closes all subscriber channels and rejects further publishes.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
