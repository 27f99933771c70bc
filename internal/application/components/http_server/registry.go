package http_server

import (
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
)

// RouteRegisterFunc mounts routes; the container is passed so controllers can be resolved.
type RouteRegisterFunc func(r chi.Router, c *core.Container) error

var (
	registryMu sync.RWMutex
	registrars []RouteRegisterFunc
)

// RegisterRoutes is usually called from a controller package init().
func RegisterRoutes(fn RouteRegisterFunc) {
	if fn == nil {
		return
	}
	registryMu.Lock()
	registrars = append(registrars, fn)
	registryMu.Unlock()
}

func snapshot() []RouteRegisterFunc {
	registryMu.RLock()
	defer registryMu.RUnlock()
	cp := make([]RouteRegisterFunc, len(registrars))
	copy(cp, registrars)
	return cp
}
