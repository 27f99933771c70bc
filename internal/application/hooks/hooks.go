package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Phase 生命周期阶段
type Phase string

const (
	BeforeStart    Phase = "before_start"
	AfterStart     Phase = "after_start"
	BeforeShutdown Phase = "before_shutdown"
	AfterShutdown  Phase = "after_shutdown"
)

type HookFunc func(ctx context.Context) error

// Hook runs at a lifecycle phase. Lower Priority runs first.
type Hook struct {
	Name     string
	Phase    Phase
	Function HookFunc
	Priority int
}

type Manager struct {
	mu    sync.RWMutex
	hooks map[Phase][]*Hook
}

func NewManager() *Manager {
	return &Manager{hooks: make(map[Phase][]*Hook)}
}

func (m *Manager) Register(h *Hook) error {
	if h == nil || h.Name == "" || h.Function == nil {
		return fmt.Errorf("invalid hook")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.hooks[h.Phase] {
		if existing.Name == h.Name {
			return fmt.Errorf("hook %s already registered for %s", h.Name, h.Phase)
		}
	}
	list := append(m.hooks[h.Phase], h)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	m.hooks[h.Phase] = list
	return nil
}

// Execute runs every hook of the phase; the first error stops the chain.
func (m *Manager) Execute(ctx context.Context, phase Phase) error {
	m.mu.RLock()
	list := make([]*Hook, len(m.hooks[phase]))
	copy(list, m.hooks[phase])
	m.mu.RUnlock()

	for _, h := range list {
		if err := h.Function(ctx); err != nil {
			return fmt.Errorf("hook %s: %w", h.Name, err)
		}
	}
	return nil
}
