// Package broadcaster distributes the latest value of a piece of state to any
// number of subscribers.
//
// Unlike a queue, a Broadcaster never builds a backlog: each subscriber holds at
// most one pending value, and a newer value replaces an unread older one. New
// subscribers immediately receive the current value.
package broadcaster

import (
	"sync"

	"github.com/google/uuid"
)

// Subscriber receives values published to a Broadcaster.
type Subscriber[T any] struct {
	ID      string
	Updates chan T
}

// Broadcaster holds the current value and fans it out to subscribers.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	current     T
	subscribers map[string]*Subscriber[T]
	closed      bool
}

// New creates a Broadcaster whose current value is initial.
func New[T any](initial T) *Broadcaster[T] {
	return &Broadcaster[T]{
		current:     initial,
		subscribers: make(map[string]*Subscriber[T]),
	}
}

// Current returns the most recently published value.
func (b *Broadcaster[T]) Current() T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Subscribe registers a new subscriber. The current value is already waiting
// on its channel. Returns nil if the broadcaster is closed.
func (b *Broadcaster[T]) Subscribe() *Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &Subscriber[T]{
		ID:      uuid.New().String(),
		Updates: make(chan T, 1),
	}
	sub.Updates <- b.current

	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Updates)
		delete(b.subscribers, id)
	}
}

// Publish replaces the current value and hands it to every subscriber,
// discarding any value a subscriber has not read yet.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.current = v
	for _, sub := range b.subscribers {
		select {
		case <-sub.Updates:
		default:
		}
		// Publishers are serialized by b.mu, so the slot is free here.
		sub.Updates <- v
	}
}

// Close closes the broadcaster and all subscriptions.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Updates)
	}
	b.subscribers = make(map[string]*Subscriber[T])
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
