// Package pubsub broadcasts serialized state to a pool of live connections.
package pubsub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
)

// Conn is one subscriber transport. Send may be called from several topics
// at once and runs under topic locks, so it must queue rather than block on
// the network. A Send error evicts the connection.
type Conn interface {
	ID() string
	Send(msg []byte) error
	Close() error
}

// source is the pool's view of a subscribed Topic.
type source interface {
	lock()
	unlock()
	snapshotLocked() ([]byte, bool)
}

// Pool is the set of live connections. Lock order: topic locks, then Pool.mu.
type Pool struct {
	mu    sync.RWMutex
	conns map[string]Conn

	srcMu   sync.Mutex
	sources []source

	sizeMu   sync.Mutex
	onResize func(n int)
}

func NewPool() *Pool {
	return &Pool{conns: make(map[string]Conn)}
}

// OnResize registers fn to be called with the pool size after every change.
func (p *Pool) OnResize(fn func(n int)) {
	p.sizeMu.Lock()
	p.onResize = fn
	p.sizeMu.Unlock()
}

func (p *Pool) attach(s source) {
	p.srcMu.Lock()
	p.sources = append(p.sources, s)
	p.srcMu.Unlock()
}

func (p *Pool) subscribed() []source {
	p.srcMu.Lock()
	defer p.srcMu.Unlock()
	return append([]source(nil), p.sources...)
}

// Add joins c to the pool and sends it the current value of every subscribed
// topic. All topic locks are held across the join, so c sees each snapshot
// before any later update. If a snapshot send fails, c is evicted and the
// error returned.
func (p *Pool) Add(c Conn) error {
	srcs := p.subscribed()
	for _, s := range srcs {
		s.lock()
	}
	defer func() {
		for i := len(srcs) - 1; i >= 0; i-- {
			srcs[i].unlock()
		}
	}()

	p.mu.Lock()
	if _, dup := p.conns[c.ID()]; dup {
		p.mu.Unlock()
		return fmt.Errorf("pubsub: connection %s already in pool", c.ID())
	}
	p.conns[c.ID()] = c
	n := len(p.conns)
	p.mu.Unlock()
	p.resized(n)

	for _, s := range srcs {
		msg, ok := s.snapshotLocked()
		if !ok {
			continue
		}
		if err := c.Send(msg); err != nil {
			p.evict(c, err)
			return fmt.Errorf("pubsub: snapshot to %s: %w", c.ID(), err)
		}
	}
	return nil
}

// Remove drops c without closing it. It reports whether c was present.
func (p *Pool) Remove(c Conn) bool {
	p.mu.Lock()
	cur, ok := p.conns[c.ID()]
	if ok && cur == c {
		delete(p.conns, c.ID())
	}
	n := len(p.conns)
	p.mu.Unlock()
	if ok && cur == c {
		p.resized(n)
		return true
	}
	return false
}

// Connections returns the live connections ordered by id.
func (p *Pool) Connections() []Conn {
	p.mu.RLock()
	out := make([]Conn, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// broadcast sends msg to every connection, evicting the ones that fail.
func (p *Pool) broadcast(msg []byte) {
	for _, c := range p.Connections() {
		if err := c.Send(msg); err != nil {
			p.evict(c, err)
		}
	}
}

func (p *Pool) evict(c Conn, cause error) {
	if !p.Remove(c) {
		return
	}
	_ = c.Close()
	logging.Warn(context.Background(), "pubsub connection evicted",
		zap.String("conn_id", c.ID()),
		zap.Error(cause),
	)
}

func (p *Pool) resized(n int) {
	p.sizeMu.Lock()
	fn := p.onResize
	p.sizeMu.Unlock()
	if fn != nil {
		fn(n)
	}
}
