// Package metrics provides Prometheus instrumentation for the growth engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AccrualRunsTotal counts accrual engine invocations by outcome.
	AccrualRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growth_accrual_runs_total",
		Help: "Total accrual engine runs",
	}, []string{"status"})

	// ROIDistributedTotal tracks cumulative ROI distributed by accrual runs.
	ROIDistributedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "growth_roi_distributed_total",
		Help: "Cumulative ROI distributed across all accrual runs",
	})

	// PositionsMaturedTotal counts active → matured transitions.
	PositionsMaturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "growth_positions_matured_total",
		Help: "Total positions transitioned to matured",
	})

	// PositionsOpenedTotal counts new positions, partitioned by tier.
	PositionsOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growth_positions_opened_total",
		Help: "Total positions opened",
	}, []string{"tier"})

	// UpgradesTotal counts tier upgrade attempts by result.
	UpgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growth_upgrades_total",
		Help: "Total tier upgrade attempts",
	}, []string{"result"})

	// ClaimsTotal counts manual ROI claims.
	ClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "growth_roi_claims_total",
		Help: "Total manual ROI claims",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "growth_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growth_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "growth_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
