package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for outbound recognition API calls
// and the operator status API.
type HTTPMetrics struct {
	clientRequestsTotal   *prometheus.CounterVec
	clientRequestDuration *prometheus.HistogramVec
	serverRequestsTotal   *prometheus.CounterVec
	serverRequestDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers HTTP metrics
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.clientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitra_recognition_requests_total",
			Help: "Total number of requests sent to recognition systems",
		},
		[]string{"host", "method", "status_code"}, // status_code: 200, 404, ... or "error" without a response
	)

	m.clientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mitra_recognition_request_duration_seconds",
			Help:    "Time taken by requests to recognition systems",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15), // 1ms to ~16s
		},
		[]string{"host", "method"},
	)

	m.serverRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	m.serverRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~2s
		},
		[]string{"method", "path"},
	)
}

func (m *HTTPMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.clientRequestsTotal,
		m.clientRequestDuration,
		m.serverRequestsTotal,
		m.serverRequestDuration,
	}
}

// Describe implements the Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordClientRequest records a request to a recognition system. status is
// zero when no response was received.
func (m *HTTPMetrics) RecordClientRequest(host, method string, status int, duration time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.clientRequestsTotal.WithLabelValues(host, method, code).Inc()
	m.clientRequestDuration.WithLabelValues(host, method).Observe(duration.Seconds())
}

// RecordHTTPRequest records a request served by the status API.
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.serverRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.serverRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
