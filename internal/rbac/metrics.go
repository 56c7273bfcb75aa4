package rbac

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts permission gate decisions.
type Metrics struct {
	checks *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the gate counters against registerer. A nil
// registerer selects the default Prometheus registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_permission_checks_total",
		Help: "Permission gate decisions partitioned by mode and outcome.",
	}, []string{"mode", "outcome"})
	registerer.MustRegister(checks)
	return &Metrics{checks: checks}
}

func (m *Metrics) observe(mode, outcome string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(mode, outcome).Inc()
}
