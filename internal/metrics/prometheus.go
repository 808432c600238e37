// Package metrics provides Prometheus metrics for the dual-mount coordinator.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	writesTotal         *prometheus.CounterVec
	writeAttemptsTotal  *prometheus.CounterVec
	writeDuration       *prometheus.HistogramVec
	bytesWrittenTotal   *prometheus.CounterVec
	readsTotal          *prometheus.CounterVec
	healthProbesTotal   *prometheus.CounterVec
	healthProbeDuration *prometheus.HistogramVec
	targetHealthy       *prometheus.GaugeVec
	validationRunsTotal *prometheus.CounterVec
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	requestsInFlight    prometheus.Gauge
}

var globalMetrics *Metrics

// NewMetrics creates and registers Prometheus metrics. promauto registers
// against the default registry, so a second call returns the first instance
// instead of panicking on duplicate registration.
func NewMetrics() *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	globalMetrics = &Metrics{
		writesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualmount_writes_total",
				Help: "Total number of coordinated writes",
			},
			[]string{"policy", "status"},
		),
		writeAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualmount_write_attempts_total",
				Help: "Final per-target write outcomes",
			},
			[]string{"target", "outcome"},
		),
		writeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dualmount_write_duration_seconds",
				Help:    "Coordinated write duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"policy"},
		),
		bytesWrittenTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualmount_bytes_written_total",
				Help: "Bytes successfully written per target",
			},
			[]string{"target"},
		),
		readsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualmount_reads_total",
				Help: "Total number of routed reads",
			},
			[]string{"target", "status"},
		),
		healthProbesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualmount_health_probes_total",
				Help: "Total number of health probes per target",
			},
			[]string{"target", "status"},
		),
		healthProbeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dualmount_health_probe_duration_seconds",
				Help:    "Health probe round-trip duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"target"},
		),
		targetHealthy: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dualmount_target_healthy",
				Help: "Current health verdict per target (1 = healthy, 0 = unhealthy)",
			},
			[]string{"target"},
		),
		validationRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualmount_validation_runs_total",
				Help: "Total number of consistency validation scenario runs",
			},
			[]string{"scenario", "result"},
		),
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualmount_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dualmount_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		requestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dualmount_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
	}

	return globalMetrics
}

// RecordWrite records one coordinated write verdict.
func (m *Metrics) RecordWrite(policy string, success bool, duration time.Duration) {
	status := "failure"
	if success {
		status = "success"
	}
	m.writesTotal.WithLabelValues(policy, status).Inc()
	m.writeDuration.WithLabelValues(policy).Observe(duration.Seconds())
}

// RecordWriteAttempt records the final outcome against one target.
func (m *Metrics) RecordWriteAttempt(target, outcome string, bytes int64) {
	m.writeAttemptsTotal.WithLabelValues(target, outcome).Inc()
	if bytes > 0 {
		m.bytesWrittenTotal.WithLabelValues(target).Add(float64(bytes))
	}
}

// RecordRead records one routed read against the target that served it.
func (m *Metrics) RecordRead(target string, success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	m.readsTotal.WithLabelValues(target, status).Inc()
}

// RecordProbe records one health probe round trip.
func (m *Metrics) RecordProbe(target string, healthy bool, latency time.Duration) {
	status := "failure"
	if healthy {
		status = "success"
	}
	m.healthProbesTotal.WithLabelValues(target, status).Inc()
	m.healthProbeDuration.WithLabelValues(target).Observe(latency.Seconds())
}

// SetTargetHealthy sets the current health gauge for a target.
func (m *Metrics) SetTargetHealthy(target string, healthy bool) {
	if healthy {
		m.targetHealthy.WithLabelValues(target).Set(1)
	} else {
		m.targetHealthy.WithLabelValues(target).Set(0)
	}
}

// RecordValidation records one scenario run result.
func (m *Metrics) RecordValidation(scenario string, passed bool) {
	result := "failed"
	if passed {
		result = "passed"
	}
	m.validationRunsTotal.WithLabelValues(scenario, result).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, path, status).Inc()
	m.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncRequestsInFlight increments the in-flight requests counter.
func (m *Metrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests counter.
func (m *Metrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		logger: logger,
	}
}

// Start starts the metrics server.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// MetricsMiddleware creates middleware that records HTTP metrics.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.IncRequestsInFlight()
			defer m.DecRequestsInFlight()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			m.RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
