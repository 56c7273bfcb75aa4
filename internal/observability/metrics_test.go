package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	metrics := NewMetrics("admin")
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/drafts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"0b7f", "9c21"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/drafts/"+id, nil))
		require.Equal(t, http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics.Handler())
	assert.Contains(t, body, `atelier_http_requests_total{code="418",method="GET",route="/drafts/{id}"} 2`)
	assert.Contains(t, body, "atelier_http_request_duration_seconds_bucket")
	assert.Contains(t, body, "atelier_http_requests_in_flight 0")
	assert.Contains(t, body, `atelier_process_info{process="admin"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestUnmatchedRoutesShareOneSeries(t *testing.T) {
	metrics := NewMetrics("admin")
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/roles", func(w http.ResponseWriter, r *http.Request) {})

	for _, path := range []string{"/a", "/b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Contains(t, scrape(t, metrics.Handler()), `atelier_http_requests_total{code="404",method="GET",route="unmatched"} 2`)
}

func TestWorkerServerExposesRegisteredCollectors(t *testing.T) {
	metrics := NewMetrics("worker")
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "atelier_catalog_codes", Help: "codes"})
	metrics.Registerer().MustRegister(gauge)
	gauge.Set(31)

	srv := metrics.Server(":0")
	assert.Equal(t, ":0", srv.Addr)

	body := scrape(t, srv.Handler)
	assert.Contains(t, body, "atelier_catalog_codes 31")
	assert.Contains(t, body, `atelier_process_info{process="worker"} 1`)

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","process":"worker"}`, rr.Body.String())
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.Middleware(next))
	assert.Equal(t, prometheus.DefaultRegisterer, m.Registerer())
	assert.Empty(t, m.Process())

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
