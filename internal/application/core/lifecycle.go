package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cabinet-fe/MiniDevOps/internal/application/hooks"
)

// LifecycleManager starts components in dependency order and stops them in reverse.
// It logs through the standard logger because the logging component itself is one of
// the components it manages.
type LifecycleManager struct {
	container   *Container
	hookManager *hooks.Manager
	timeout     time.Duration

	mutex          sync.Mutex
	shutdownCalled bool
}

func NewLifecycleManager(container *Container, hm *hooks.Manager) *LifecycleManager {
	if hm == nil {
		hm = hooks.NewManager()
	}
	return &LifecycleManager{
		container:   container,
		hookManager: hm,
		timeout:     30 * time.Second,
	}
}

// SetTimeout 设置单个组件启动/停止超时
func (lm *LifecycleManager) SetTimeout(timeout time.Duration) { lm.timeout = timeout }

func (lm *LifecycleManager) AddHook(name string, phase hooks.Phase, fn hooks.HookFunc, priority int) error {
	return lm.hookManager.Register(&hooks.Hook{Name: name, Phase: phase, Function: fn, Priority: priority})
}

func (lm *LifecycleManager) StartAll(ctx context.Context) error {
	if err := lm.hookManager.Execute(ctx, hooks.BeforeStart); err != nil {
		return fmt.Errorf("before_start hooks failed: %w", err)
	}

	components, err := lm.container.ValidateDependencies()
	if err != nil {
		return fmt.Errorf("failed to order components: %w", err)
	}

	for i, comp := range components {
		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := comp.Start(startCtx)
		cancel()
		if err != nil {
			log.Printf("failed to start component %s: %v", comp.Name(), err)
			lm.stopInReverse(context.Background(), components[:i])
			return fmt.Errorf("failed to start component %s: %w", comp.Name(), err)
		}
		log.Printf("component %s started", comp.Name())
	}

	if err := lm.hookManager.Execute(ctx, hooks.AfterStart); err != nil {
		log.Printf("after_start hooks failed: %v", err)
	}
	return nil
}

// StopAll is idempotent.
func (lm *LifecycleManager) StopAll(ctx context.Context) {
	lm.mutex.Lock()
	if lm.shutdownCalled {
		lm.mutex.Unlock()
		return
	}
	lm.shutdownCalled = true
	lm.mutex.Unlock()

	if err := lm.hookManager.Execute(ctx, hooks.BeforeShutdown); err != nil {
		log.Printf("before_shutdown hooks failed: %v", err)
	}

	components, err := lm.container.SortComponentsByDependencies()
	if err != nil {
		log.Printf("failed to order components for shutdown: %v", err)
		for _, comp := range lm.container.ListRegistered() {
			components = append(components, comp)
		}
	}
	lm.stopInReverse(ctx, components)

	if err := lm.hookManager.Execute(ctx, hooks.AfterShutdown); err != nil {
		log.Printf("after_shutdown hooks failed: %v", err)
	}
}

func (lm *LifecycleManager) stopInReverse(ctx context.Context, components []Component) {
	for i := len(components) - 1; i >= 0; i-- {
		comp := components[i]
		if !comp.IsActive() {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		if err := comp.Stop(stopCtx); err != nil {
			log.Printf("error stopping component %s: %v", comp.Name(), err)
		} else {
			log.Printf("component %s stopped", comp.Name())
		}
		cancel()
	}
}
