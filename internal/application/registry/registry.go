package registry

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/cabinet-fe/MiniDevOps/internal/application/config"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
)

// BuilderFunc returns (enabled, component, error). enabled=false skips registration.
type BuilderFunc func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error)

// Builder holds metadata.
type Builder struct {
	Name       string      // final component name (inferred for auto builders)
	Fn         BuilderFunc // build function
	Auto       bool        // infer name and build-time deps from the built component
	Deps       []string    // build-time deps, used only to order builders
	prebuilt   core.Component
	preEnabled bool
}

// Registry collects builders and turns them into registered components.
// Framework and project packages add to the default registry from init().
type Registry struct {
	mu          sync.Mutex
	builders    []*Builder
	runtimeDeps map[string][]string
}

func New() *Registry {
	return &Registry{runtimeDeps: map[string][]string{}}
}

var defaultRegistry = New()

func Register(name string, fn BuilderFunc) { defaultRegistry.Register(name, fn) }

func RegisterWithDeps(name string, deps []string, fn BuilderFunc) {
	defaultRegistry.RegisterWithDeps(name, deps, fn)
}

func RegisterAuto(fn BuilderFunc) { defaultRegistry.RegisterAuto(fn) }

func BuildAndRegisterAll(cfg *config.AppConfig, c *core.Container) error {
	return defaultRegistry.BuildAndRegisterAll(cfg, c)
}

func (r *Registry) findBuilder(name string) *Builder {
	for _, b := range r.builders {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// Register registers a builder with an explicit name.
func (r *Registry) Register(name string, fn BuilderFunc) {
	r.RegisterWithDeps(name, nil, fn)
}

// RegisterWithDeps registers a named builder that must run after the builders named in deps.
func (r *Registry) RegisterWithDeps(name string, deps []string, fn BuilderFunc) {
	if name == "" {
		panic("registry: empty name in Register")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findBuilder(name) != nil {
		panic("registry: duplicate builder name " + name)
	}
	r.builders = append(r.builders, &Builder{Name: name, Fn: fn, Deps: append([]string(nil), deps...)})
}

// RegisterAuto registers a builder whose component name and build-time deps are inferred.
// The built component's Name() must be stable and non-empty.
func (r *Registry) RegisterAuto(fn BuilderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders = append(r.builders, &Builder{Auto: true, Fn: fn})
}

// BuildAndRegisterAll:
//  1. pre-builds auto builders to infer their names;
//  2. infers build-time deps from `infra:"dep:<name>"` tags;
//  3. orders builders topologically;
//  4. builds and registers, then applies runtime dependency extensions.
func (r *Registry) BuildAndRegisterAll(cfg *config.AppConfig, c *core.Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.builders {
		if !b.Auto || b.Name != "" {
			continue
		}
		enabled, comp, err := b.Fn(cfg, c)
		if err != nil {
			return fmt.Errorf("auto builder failed: %w", err)
		}
		b.preEnabled, b.prebuilt = enabled, comp
		if !enabled || comp == nil {
			continue
		}
		name := comp.Name()
		if name == "" {
			return fmt.Errorf("auto builder produced unnamed component")
		}
		if existing := r.findBuilder(name); existing != nil && existing != b {
			return fmt.Errorf("duplicate inferred name: %s", name)
		}
		b.Name = name
	}

	for _, b := range r.builders {
		if !b.Auto || b.Name == "" || b.prebuilt == nil {
			continue
		}
		var deps []string
		for _, d := range inferTagDependencies(b.prebuilt) {
			if r.findBuilder(d) != nil {
				deps = append(deps, d)
			}
		}
		b.Deps = deps
	}

	ordered, err := topoSortBuilders(r.builders)
	if err != nil {
		return err
	}

	for _, b := range ordered {
		var (
			enabled bool
			comp    core.Component
		)
		if b.Auto {
			enabled, comp = b.preEnabled, b.prebuilt
		} else {
			enabled, comp, err = b.Fn(cfg, c)
			if err != nil {
				return fmt.Errorf("build %s failed: %w", b.Name, err)
			}
		}
		if !enabled || comp == nil {
			continue
		}
		if err := c.Register(b.Name, comp); err != nil {
			return fmt.Errorf("register %s failed: %w", b.Name, err)
		}
	}
	r.applyRuntimeDepExtensions(c)
	return nil
}

// inferTagDependencies extracts component names from `infra:"dep:<name>"` tags.
func inferTagDependencies(comp core.Component) []string {
	v := reflect.ValueOf(comp)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	seen := map[string]struct{}{}
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		tag := f.Tag.Get("infra")
		if !strings.HasPrefix(tag, "dep:") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(tag, "dep:")), "?")
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// topoSortBuilders orders named builders by Deps. Unnamed (disabled auto) builders are dropped.
func topoSortBuilders(list []*Builder) ([]*Builder, error) {
	nameMap := map[string]*Builder{}
	inDeg := map[string]int{}
	adj := map[string][]string{}
	for _, b := range list {
		if b.Name != "" {
			nameMap[b.Name] = b
			inDeg[b.Name] = 0
		}
	}
	for _, b := range list {
		if b.Name == "" {
			continue
		}
		for _, d := range b.Deps {
			if _, ok := nameMap[d]; !ok {
				continue
			}
			adj[d] = append(adj[d], b.Name)
			inDeg[b.Name]++
		}
	}
	var zero []string
	for n, d := range inDeg {
		if d == 0 {
			zero = append(zero, n)
		}
	}
	sort.Strings(zero)
	var ordered []*Builder
	for len(zero) > 0 {
		n := zero[0]
		zero = zero[1:]
		ordered = append(ordered, nameMap[n])
		for _, nxt := range adj[n] {
			inDeg[nxt]--
			if inDeg[nxt] == 0 {
				zero = append(zero, nxt)
			}
		}
		sort.Strings(zero)
	}
	if len(ordered) != len(nameMap) {
		var cyc []string
		for n, d := range inDeg {
			if d > 0 {
				cyc = append(cyc, n)
			}
		}
		sort.Strings(cyc)
		return nil, fmt.Errorf("registry: cyclic builder deps: %v", cyc)
	}
	return ordered, nil
}
