package internal

import (
	"net/http"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for HTTP requests and for
// the tracking core, which reports through the tracking.Observer methods
type Metrics struct {
	reqTotal   *prometheus.CounterVec
	reqLatency *prometheus.HistogramVec

	reads        *prometheus.CounterVec
	movements    *prometheus.CounterVec
	batchSeconds prometheus.Histogram
	batchSize    prometheus.Histogram

	registry *prometheus.Registry
}

var _ tracking.Observer = (*Metrics)(nil)

// NewMetrics creates a new Metrics instance with a private Prometheus registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		reqTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		reqLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		reads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_reads_total",
				Help: "Portal reads by ingestion outcome",
			},
			[]string{"outcome"},
		),
		movements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_movements_total",
				Help: "Ledger entries appended by kind",
			},
			[]string{"kind"},
		),
		batchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_ingest_batch_seconds",
			Help:    "Time spent reconciling one portal batch",
			Buckets: prometheus.DefBuckets,
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_ingest_batch_reads",
			Help:    "Reads per portal batch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		registry: registry,
	}

	registry.MustRegister(m.reqTotal, m.reqLatency, m.reads, m.movements, m.batchSeconds, m.batchSize)
	return m
}

// ReadProcessed counts one read outcome
func (m *Metrics) ReadProcessed(status tracking.ReadStatus) {
	m.reads.WithLabelValues(string(status)).Inc()
}

// MovementRecorded counts one ledger entry
func (m *Metrics) MovementRecorded(kind models.MovementKind) {
	m.movements.WithLabelValues(string(kind)).Inc()
}

// BatchCompleted records the size and duration of one ingestion call
func (m *Metrics) BatchCompleted(size int, elapsed time.Duration) {
	m.batchSize.Observe(float64(size))
	m.batchSeconds.Observe(elapsed.Seconds())
}

// Middleware returns a Chi middleware that collects metrics
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rw, r)

			status := http.StatusText(rw.code)
			path := routePattern(r)
			m.reqTotal.WithLabelValues(r.Method, path, status).Inc()
			m.reqLatency.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler returns an http.Handler that serves Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// routePattern prefers chi's matched pattern so ids do not explode label
// cardinality
func routePattern(r *http.Request) string {
	if chiCtx := chi.RouteContext(r.Context()); chiCtx != nil {
		if p := chiCtx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// statusRecorder captures the HTTP status code for metrics and access logs
type statusRecorder struct {
	http.ResponseWriter
	code  int
	bytes int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}
