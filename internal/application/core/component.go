package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Component 组件生命周期接口
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck() error
	Dependencies() []string
	IsActive() bool
}

// BaseComponent is embedded by every component; it carries the name, the
// runtime dependency list and the active flag.
type BaseComponent struct {
	name   string
	active atomic.Bool

	depMu sync.RWMutex
	deps  []string
}

func NewBaseComponent(name string, deps ...string) *BaseComponent {
	return &BaseComponent{name: name, deps: deps}
}

func (c *BaseComponent) Name() string { return c.name }

func (c *BaseComponent) Dependencies() []string {
	c.depMu.RLock()
	defer c.depMu.RUnlock()
	out := make([]string, len(c.deps))
	copy(out, c.deps)
	return out
}

func (c *BaseComponent) IsActive() bool { return c.active.Load() }

func (c *BaseComponent) Start(ctx context.Context) error {
	c.active.Store(true)
	return nil
}

func (c *BaseComponent) Stop(ctx context.Context) error {
	c.active.Store(false)
	return nil
}

func (c *BaseComponent) HealthCheck() error {
	if !c.active.Load() {
		return fmt.Errorf("component %s is not active", c.name)
	}
	return nil
}

// AddDependencies 在启动前追加运行期依赖；重复项会被忽略。
func (c *BaseComponent) AddDependencies(deps ...string) {
	if len(deps) == 0 {
		return
	}
	c.depMu.Lock()
	defer c.depMu.Unlock()
	for _, d := range deps {
		if d == "" || d == c.name || containsString(c.deps, d) {
			continue
		}
		c.deps = append(c.deps, d)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
