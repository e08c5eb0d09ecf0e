// Package metrics provides Prometheus instrumentation for the finance engine.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// YieldCalculations counts yield calculations by investment type and outcome.
	YieldCalculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finance_yield_calculations_total",
		Help: "Total yield calculations",
	}, []string{"type", "outcome"})

	// RateioSplits counts rateio resolutions by mode (automatic/manual) and outcome.
	RateioSplits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finance_rateio_splits_total",
		Help: "Total rateio splits resolved",
	}, []string{"mode", "outcome"})

	// ReserveMovements counts applied reserve movements by type.
	ReserveMovements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finance_reserve_movements_total",
		Help: "Total reserve movements applied",
	}, []string{"type"})

	// ReserveMovementLatency tracks movement application latency, retries included.
	ReserveMovementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "finance_reserve_movement_latency_seconds",
		Help:    "Reserve movement application latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ReserveVersionConflicts counts optimistic concurrency retries.
	ReserveVersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finance_reserve_version_conflicts_total",
		Help: "Reserve writes retried after a version conflict",
	})

	// JustificationRejections counts emergency uses rejected for lacking a justification.
	JustificationRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finance_reserve_justification_rejections_total",
		Help: "Emergency uses rejected without justification",
	})

	// ReserveBalance tracks the current reserve balance per aircraft.
	ReserveBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "finance_reserve_balance",
		Help: "Current margin reserve balance",
	}, []string{"aircraft_id"})

	// ReserveStatus is 1 for the current status of each aircraft's reserve, 0 otherwise.
	ReserveStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "finance_reserve_status",
		Help: "Margin reserve status (1 = current)",
	}, []string{"aircraft_id", "status"})

	// ActivePositions tracks the number of active investment positions.
	ActivePositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "finance_active_positions",
		Help: "Number of active investment positions",
	})

	// JobRuns counts scheduled job runs by job and outcome.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finance_job_runs_total",
		Help: "Scheduled job runs",
	}, []string{"job", "outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "finance_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finance_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finance_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Outcome maps an error to an "ok"/"error" label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// SetReserveStatus marks status as current for an aircraft and clears the others.
func SetReserveStatus(aircraftID string, status string, balance float64) {
	for _, s := range []string{"NORMAL", "ATTENTION", "LIQUIDITY_RISK"} {
		v := 0.0
		if s == status {
			v = 1
		}
		ReserveStatus.WithLabelValues(aircraftID, s).Set(v)
	}
	ReserveBalance.WithLabelValues(aircraftID).Set(balance)
}

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

		// Route pattern keeps aircraft ids out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
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

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
