package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Container 组件容器: name -> Component
type Container struct {
	components map[string]Component
	mutex      sync.RWMutex
}

func NewContainer() *Container {
	return &Container{components: make(map[string]Component)}
}

func (c *Container) Register(name string, component Component) error {
	if name == "" || component == nil {
		return fmt.Errorf("register: empty name or nil component")
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.components[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}
	c.components[name] = component
	return nil
}

func (c *Container) Resolve(name string) (Component, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	component, exists := c.components[name]
	if !exists {
		return nil, fmt.Errorf("component %s not found", name)
	}
	return component, nil
}

// ResolveAs resolves a component and asserts it to T.
func ResolveAs[T any](c *Container, name string) (T, error) {
	var zero T
	comp, err := c.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := comp.(T)
	if !ok {
		return zero, fmt.Errorf("component %s has type %T, want %T", name, comp, zero)
	}
	return typed, nil
}

func (c *Container) ListRegistered() map[string]Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]Component, len(c.components))
	for name, comp := range c.components {
		result[name] = comp
	}
	return result
}

// SortComponentsByDependencies 按依赖做拓扑排序（名称排序保证结果稳定）
func (c *Container) SortComponentsByDependencies() ([]Component, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	result := make([]Component, 0, len(c.components))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		if visiting[name] {
			return fmt.Errorf("circular dependency: %s -> %s", strings.Join(path, " -> "), name)
		}
		if visited[name] {
			return nil
		}
		component, exists := c.components[name]
		if !exists {
			return fmt.Errorf("component %s not found (required by %s)", name, strings.Join(path, " -> "))
		}
		visiting[name] = true
		deps := component.Dependencies()
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		result = append(result, component)
		return nil
	}

	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ValidateDependencies reports every missing dependency at once, then checks for cycles.
func (c *Container) ValidateDependencies() ([]Component, error) {
	c.mutex.RLock()
	var parts []string
	for name, comp := range c.components {
		var missing []string
		for _, dep := range comp.Dependencies() {
			if _, ok := c.components[dep]; !ok {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			parts = append(parts, fmt.Sprintf("%s -> [%s]", name, strings.Join(missing, ",")))
		}
	}
	c.mutex.RUnlock()
	if len(parts) > 0 {
		sort.Strings(parts)
		return nil, fmt.Errorf("missing component dependencies: %s", strings.Join(parts, "; "))
	}
	return c.SortComponentsByDependencies()
}
