package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dockwatch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "endpoint"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dockwatch_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"service", "method", "endpoint"},
	)

	// Runtime metrics
	RuntimeConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockwatch_runtime_connected",
			Help: "1 when a container runtime connection is held, 0 otherwise",
		},
	)

	RuntimeConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockwatch_runtime_connect_attempts_total",
			Help: "Runtime connection attempts per candidate, by outcome",
		},
		[]string{"outcome"},
	)

	// Sampler metrics
	CPUSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockwatch_cpu_samples_total",
			Help: "CPU samples taken, by outcome (sampled, stopped, error)",
		},
		[]string{"outcome"},
	)

	CPUSampleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dockwatch_cpu_sample_duration_seconds",
			Help:    "Wall time of a two-snapshot CPU sample",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1, 2, 5},
		},
	)

	// Stream metrics
	StreamSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockwatch_stream_sessions_active",
			Help: "Number of open metric streams",
		},
	)

	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockwatch_stream_events_total",
			Help: "Stream events published, by kind (metric, error)",
		},
		[]string{"kind"},
	)

	// Snapshot metrics
	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockwatch_snapshots_total",
			Help: "Snapshot aggregations, by outcome",
		},
		[]string{"outcome"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockwatch_errors_total",
			Help: "Total number of errors returned to clients",
		},
		[]string{"service", "type", "operation"},
	)
)

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(service, method, endpoint, status string, duration float64, respSize float64) {
	HTTPRequestsTotal.WithLabelValues(service, method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(service, method, endpoint).Observe(duration)
	if respSize > 0 {
		HTTPResponseSize.WithLabelValues(service, method, endpoint).Observe(respSize)
	}
}

// RecordError records error metrics
func RecordError(service, errType, operation string) {
	ErrorsTotal.WithLabelValues(service, errType, operation).Inc()
}
