package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
	"github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
)

// active 为已启动的组件, 指标未启用时为 nil。
var active atomic.Pointer[Component]

// C returns the started component, or nil when metrics are disabled.
func C() *Component { return active.Load() }

type Component struct {
	*core.BaseComponent
	cfg      *Config
	server   *http.Server
	registry *prometheus.Registry
	addr     string
	started  bool
}

func NewComponent(cfg *Config) *Component {
	return &Component{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_PROMETHEUS, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		registry:      prometheus.NewRegistry(),
	}
}

func (c *Component) Start(ctx context.Context) error {
	if err := c.BaseComponent.Start(ctx); err != nil {
		return err
	}
	c.cfg.applyDefaults()
	if *c.cfg.CollectGoMetrics {
		_ = c.registry.Register(collectors.NewGoCollector())
	}
	if *c.cfg.CollectProcess {
		_ = c.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	mux := http.NewServeMux()
	mux.Handle(c.cfg.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("prometheus listen %s: %w", c.cfg.Address, err)
	}
	c.addr = ln.Addr().String()
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logging.Infof(context.Background(), "prometheus metrics listening on %s%s", c.addr, c.cfg.Path)
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf(context.Background(), "prometheus server error: %v", err)
		}
	}()

	active.Store(c)
	c.started = true
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	defer func() { _ = c.BaseComponent.Stop(ctx) }()
	if !c.started || c.server == nil {
		return nil
	}
	active.CompareAndSwap(c, nil)
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("prometheus server shutdown: %w", err)
	}
	c.started = false
	logging.Info(ctx, "prometheus component stopped")
	return nil
}

func (c *Component) HealthCheck() error {
	if err := c.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if !c.started {
		return fmt.Errorf("prometheus not started")
	}
	return nil
}

func (c *Component) Addr() string { return c.addr }

func (c *Component) fqName(name string) string {
	return prometheus.BuildFQName(c.cfg.Namespace, c.cfg.Subsystem, name)
}

// register returns the already registered collector when one with the same
// descriptor exists, so callers may ask for the same metric twice.
func register[T prometheus.Collector](reg *prometheus.Registry, col T) T {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return col
}

func (c *Component) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	return register(c.registry, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: c.fqName(name),
		Help: help,
	}, labels))
}

func (c *Component) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return register(c.registry, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    c.fqName(name),
		Help:    help,
		Buckets: buckets,
	}, labels))
}

func (c *Component) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	return register(c.registry, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: c.fqName(name),
		Help: help,
	}, labels))
}
