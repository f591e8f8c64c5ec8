package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calibkit/internal/pipeline"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	registry     *prometheus.Registry
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

// NewMetrics registers the calibkit collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "calibkit_runs_total",
			Help: "Number of calibration runs by type and final status.",
		}, []string{"type", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "calibkit_run_duration_seconds",
			Help: "Duration of calibration runs.",
		}, []string{"type"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "calibkit_http_requests_total",
			Help: "Number of HTTP requests by route.",
		}, []string{"route"}),
	}
}

// ObserveRun has the pipeline.Observer signature.
func (m *Metrics) ObserveRun(job pipeline.Job, status string, d time.Duration) {
	m.runs.WithLabelValues(string(job.Type), status).Inc()
	m.runDuration.WithLabelValues(string(job.Type)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		next.ServeHTTP(w, r)
		m.httpRequests.WithLabelValues(route).Inc()
	})
}
