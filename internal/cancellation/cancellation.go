// Package cancellation tracks the single live execution allowed per task id.
package cancellation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrConflict = errors.New("cancellation: id already has a live handle")
	// ErrCancelled is the cause attached to a handle's context by Cancel.
	ErrCancelled = errors.New("cancelled")
)

// Handle is the cancellation token of one execution. Its context is done once
// Cancel is called or the parent context ends.
type Handle struct {
	ctx       context.Context
	cancel    context.CancelCauseFunc
	cancelled atomic.Bool
}

func NewHandle(parent context.Context) *Handle {
	ctx, cancel := context.WithCancelCause(parent)
	return &Handle{ctx: ctx, cancel: cancel}
}

func (h *Handle) Context() context.Context { return h.ctx }

// Cancel reports true only for the call that actually cancelled.
func (h *Handle) Cancel() bool {
	if !h.cancelled.CompareAndSwap(false, true) {
		return false
	}
	h.cancel(ErrCancelled)
	return true
}

// Cancelled reports whether Cancel was called, regardless of the parent context.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// Release frees the context resources without marking the handle cancelled.
func (h *Handle) Release() { h.cancel(context.Canceled) }

// Registry maps ids to live handles.
type Registry[K comparable] struct {
	mu      sync.Mutex
	handles map[K]*Handle
}

func NewRegistry[K comparable]() *Registry[K] {
	return &Registry[K]{handles: make(map[K]*Handle)}
}

func (r *Registry[K]) Register(id K, h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[id]; ok {
		return ErrConflict
	}
	r.handles[id] = h
	return nil
}

// Cancel cancels the live handle for id. It returns false if id is unknown or
// its handle was already cancelled. The handle stays registered until Unregister.
func (r *Registry[K]) Cancel(id K) bool {
	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return h.Cancel()
}

// Unregister removes id only if it is still bound to h, so a stale owner
// cannot evict a newer execution.
func (r *Registry[K]) Unregister(id K, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[id]; ok && cur == h {
		delete(r.handles, id)
	}
}

func (r *Registry[K]) Active(id K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[id]
	return ok
}

// CancelAll cancels every live handle and returns how many were cancelled by this call.
func (r *Registry[K]) CancelAll() int {
	r.mu.Lock()
	hs := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		hs = append(hs, h)
	}
	r.mu.Unlock()
	n := 0
	for _, h := range hs {
		if h.Cancel() {
			n++
		}
	}
	return n
}
