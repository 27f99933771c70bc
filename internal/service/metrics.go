package service

import (
	"github.com/prometheus/client_golang/prometheus"

	promcomp "github.com/cabinet-fe/MiniDevOps/internal/application/components/prometheus"
)

type buildMetrics struct {
	builds        *prometheus.CounterVec
	running       *prometheus.GaugeVec
	duration      *prometheus.HistogramVec
	wsConnections *prometheus.GaugeVec
}

// newBuildMetrics returns nil when metrics are disabled. Registering twice
// returns the same collectors.
func newBuildMetrics(p *promcomp.Component) *buildMetrics {
	if p == nil {
		p = promcomp.C()
	}
	if p == nil {
		return nil
	}
	return &buildMetrics{
		builds:        p.NewCounter("builds_total", "Finished builds by status.", []string{"status"}),
		running:       p.NewGauge("builds_running", "Builds currently running.", nil),
		duration:      p.NewHistogram("build_duration_seconds", "Build wall time.", []string{"status"}, []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}),
		wsConnections: p.NewGauge("ws_connections", "Live progress subscribers.", nil),
	}
}

func (m *buildMetrics) started() {
	if m == nil {
		return
	}
	m.running.WithLabelValues().Inc()
}

func (m *buildMetrics) finished(status string, seconds float64) {
	if m == nil {
		return
	}
	m.running.WithLabelValues().Dec()
	m.builds.WithLabelValues(status).Inc()
	m.duration.WithLabelValues(status).Observe(seconds)
}
