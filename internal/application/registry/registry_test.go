package registry

import (
	"testing"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/prometheus"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/telemetry"
	"github.com/cabinet-fe/MiniDevOps/internal/application/config"
	"github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
)

type daoComp struct {
	*core.BaseComponent
}

type svcComp struct {
	*core.BaseComponent
	Dao   *daoComp       `infra:"dep:dao"`
	Cache core.Component `infra:"dep:cache?"`
}

func TestAutoBuildersOrderedByTags(t *testing.T) {
	r := New()
	var order []string
	r.RegisterAuto(func(*config.AppConfig, *core.Container) (bool, core.Component, error) {
		return true, &svcComp{BaseComponent: core.NewBaseComponent("svc")}, nil
	})
	r.Register("dao", func(*config.AppConfig, *core.Container) (bool, core.Component, error) {
		order = append(order, "dao")
		return true, &daoComp{core.NewBaseComponent("dao")}, nil
	})
	r.RegisterWithDeps("ctrl", []string{"svc"}, func(_ *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if _, err := c.Resolve("svc"); err != nil {
			t.Errorf("svc should be registered before ctrl is built: %v", err)
		}
		order = append(order, "ctrl")
		return true, core.NewBaseComponent("ctrl"), nil
	})
	r.Register("disabled", func(*config.AppConfig, *core.Container) (bool, core.Component, error) {
		return false, nil, nil
	})

	c := core.NewContainer()
	if err := r.BuildAndRegisterAll(&config.AppConfig{}, c); err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(order) != 2 || order[0] != "dao" || order[1] != "ctrl" {
		t.Fatalf("unexpected build order %v", order)
	}
	for _, name := range []string{"svc", "dao", "ctrl"} {
		if _, err := c.Resolve(name); err != nil {
			t.Fatalf("%s not registered: %v", name, err)
		}
	}
	if _, err := c.Resolve("disabled"); err == nil {
		t.Fatalf("disabled builder should not register")
	}
}

func TestRuntimeDependencyExtensions(t *testing.T) {
	r := New()
	r.Register("http_server", func(*config.AppConfig, *core.Container) (bool, core.Component, error) {
		return true, core.NewBaseComponent("http_server"), nil
	})
	r.Register("ctrl", func(*config.AppConfig, *core.Container) (bool, core.Component, error) {
		return true, core.NewBaseComponent("ctrl"), nil
	})
	r.ExtendRuntimeDependencies("http_server", "ctrl", "telemetry")
	r.ExtendRuntimeDependencies("absent", "ctrl")

	c := core.NewContainer()
	if err := r.BuildAndRegisterAll(&config.AppConfig{}, c); err != nil {
		t.Fatalf("build: %v", err)
	}
	comp, _ := c.Resolve("http_server")
	deps := comp.Dependencies()
	if len(deps) != 1 || deps[0] != "ctrl" {
		t.Fatalf("deps = %v, want [ctrl]", deps)
	}
}

func TestCyclicBuilderDeps(t *testing.T) {
	r := New()
	noop := func(*config.AppConfig, *core.Container) (bool, core.Component, error) { return false, nil, nil }
	r.RegisterWithDeps("a", []string{"b"}, noop)
	r.RegisterWithDeps("b", []string{"a"}, noop)
	if err := r.BuildAndRegisterAll(&config.AppConfig{}, core.NewContainer()); err == nil {
		t.Fatalf("cycle should be reported")
	}
}

func TestDuplicateRegisterPanics(t *testing.T) {
	r := New()
	noop := func(*config.AppConfig, *core.Container) (bool, core.Component, error) { return false, nil, nil }
	r.Register("x", noop)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	r.Register("x", noop)
}

func TestBuiltinComponentsFollowEnabledFlags(t *testing.T) {
	cfg := &config.AppConfig{
		APPInfo:    &config.APPInfo{APPName: "minidevops"},
		Logging:    &logging.LoggingConfig{Enabled: true},
		Telemetry:  &telemetry.Config{Enabled: true},
		Prometheus: &prometheus.Config{Enabled: false},
	}
	c := core.NewContainer()
	if err := BuildAndRegisterAll(cfg, c); err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, name := range []string{consts.COMPONENT_LOGGING, consts.COMPONENT_TELEMETRY} {
		if _, err := c.Resolve(name); err != nil {
			t.Fatalf("%s not registered: %v", name, err)
		}
	}
	for _, name := range []string{consts.COMPONENT_PROMETHEUS, consts.COMPONENT_GORM, consts.COMPONENT_REDIS, consts.COMPONENT_HTTP_SERVER} {
		if _, err := c.Resolve(name); err == nil {
			t.Fatalf("%s should be skipped", name)
		}
	}
	if cfg.Telemetry.ServiceName != "minidevops" {
		t.Fatalf("service name fallback = %q", cfg.Telemetry.ServiceName)
	}
	if cfg.Logging.Level != "INFO" {
		t.Fatalf("logging defaults not applied: %+v", cfg.Logging)
	}
}
