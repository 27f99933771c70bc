package pubsub

import (
	"fmt"
	"sync"
)

// Topic pairs one value with its serializer and fans every update out to the
// subscribed pools. Updates on a topic are fully serialized: mutation,
// encoding and delivery happen under one lock, so each connection receives
// payloads in mutation order.
type Topic[T any] struct {
	mu        sync.Mutex
	value     T
	serialize func(T) ([]byte, error)
	last      []byte
	pools     []*Pool
}

func NewTopic[T any](initial T, serialize func(T) ([]byte, error)) (*Topic[T], error) {
	t := &Topic[T]{value: initial, serialize: serialize}
	msg, err := serialize(initial)
	if err != nil {
		return nil, fmt.Errorf("pubsub: serialize initial value: %w", err)
	}
	t.last = msg
	return t, nil
}

// Subscribe makes p a fan-out target for future updates and snapshots.
func (t *Topic[T]) Subscribe(p *Pool) {
	t.mu.Lock()
	t.pools = append(t.pools, p)
	t.mu.Unlock()
	p.attach(t)
}

// Update replaces the value with mutate's result and publishes it. mutate may
// also change the value in place and return it. A serialize error leaves the
// previous payload published and is returned.
func (t *Topic[T]) Update(mutate func(T) T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value = mutate(t.value)
	msg, err := t.serialize(t.value)
	if err != nil {
		return fmt.Errorf("pubsub: serialize: %w", err)
	}
	t.last = msg
	for _, p := range t.pools {
		p.broadcast(msg)
	}
	return nil
}

// View calls fn with the current value under the topic lock. fn must not
// retain or modify the value.
func (t *Topic[T]) View(fn func(T)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.value)
}

// Payload returns the last published bytes.
func (t *Topic[T]) Payload() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.last...)
}

func (t *Topic[T]) lock()   { t.mu.Lock() }
func (t *Topic[T]) unlock() { t.mu.Unlock() }

func (t *Topic[T]) snapshotLocked() ([]byte, bool) {
	return t.last, t.last != nil
}
