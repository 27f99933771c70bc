package registry

import (
	"log"

	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
)

// ExtendRuntimeDependencies declares that component target also depends on deps.
// It affects only start/stop ordering, not builder order (use RegisterWithDeps for that),
// and must be called before BuildAndRegisterAll, usually from init().
func ExtendRuntimeDependencies(target string, deps ...string) {
	defaultRegistry.ExtendRuntimeDependencies(target, deps...)
}

func (r *Registry) ExtendRuntimeDependencies(target string, deps ...string) {
	if target == "" || len(deps) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimeDeps[target] = append(r.runtimeDeps[target], deps...)
}

// applyRuntimeDepExtensions patches extra deps into registered targets. Caller holds r.mu.
// Targets that were not registered (disabled) are skipped; deps that were not registered are dropped.
func (r *Registry) applyRuntimeDepExtensions(c *core.Container) {
	for target, extra := range r.runtimeDeps {
		comp, err := c.Resolve(target)
		if err != nil {
			log.Printf("registry: runtime dep extension target %s not registered (skipped)", target)
			continue
		}
		extender, ok := comp.(interface{ AddDependencies(...string) })
		if !ok {
			log.Printf("registry: component %s does not support AddDependencies; extension skipped", target)
			continue
		}
		var present []string
		for _, d := range extra {
			if _, err := c.Resolve(d); err == nil {
				present = append(present, d)
			}
		}
		extender.AddDependencies(present...)
		log.Printf("registry: applied runtime dependency extension: %s += %v", target, present)
	}
	r.runtimeDeps = map[string][]string{}
}
