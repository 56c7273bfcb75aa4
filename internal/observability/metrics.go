// Package observability owns the Prometheus registry each atelier process
// exposes at /metrics. The admin server mounts it on its router; the worker,
// which has no router of its own, serves it through Server.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aurum-atelier/atelier-admin/internal/platform/httpx"
)

// Metrics is one process's registry plus the HTTP request collectors.
type Metrics struct {
	process  string
	registry *prometheus.Registry
	handler  http.Handler
	http     httpCollectors
}

// NewMetrics builds a private registry for process ("admin", "worker"). It
// carries the Go runtime and process collectors and an info series naming
// the process so admin and worker scrapes can be told apart.
func NewMetrics(process string) *Metrics {
	registry := prometheus.NewRegistry()
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atelier_process_info",
		Help: "Constant 1, labelled with the atelier process serving this registry.",
	}, []string{"process"})
	info.WithLabelValues(process).Set(1)
	hc := newHTTPCollectors()
	registry.MustRegister(
		info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hc.register(registry)
	return &Metrics{
		process:  process,
		registry: registry,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		http:     hc,
	}
}

// Process names the process the registry belongs to.
func (m *Metrics) Process() string {
	if m == nil {
		return ""
	}
	return m.process
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "metrics are not configured")
		})
	}
	return m.handler
}

// Registerer is where other packages (rbac gates, background jobs) register
// their collectors so they are scraped with the rest of the process.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Server returns a standalone listener exposing /metrics and /healthz, for
// processes without an HTTP API.
func (m *Metrics) Server(addr string) *http.Server {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok", "process": m.Process()})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
