// Package metrics provides HTTP handler metrics for observability
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for the HTTP API and the outbound
// detection service client.
type HTTPMetrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimited         *prometheus.CounterVec

	upstreamRequestsTotal *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers new HTTP handler metrics
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"}, // path is the route template, e.g. /api/v1/blobs/:id
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor4, BucketCount12), // 1ms to ~70min
		},
		[]string{"method", "path"},
	)

	m.rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"path"},
	)

	m.upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markdetect_upstream_requests_total",
			Help: "Requests sent to the detection service",
		},
		[]string{"host", "status_code"}, // status_code: HTTP status or "error"
	)
}

func (m *HTTPMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.rateLimited,
		m.upstreamRequestsTotal,
	}
}

// Describe implements the prometheus.Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, duration float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordRateLimited records a request denied by the rate limiter
func (m *HTTPMetrics) RecordRateLimited(path string) {
	m.rateLimited.WithLabelValues(path).Inc()
}

// RecordUpstreamRequest records a request to the detection service. A zero
// statusCode means the request failed before a response arrived.
func (m *HTTPMetrics) RecordUpstreamRequest(host string, statusCode int) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	m.upstreamRequestsTotal.WithLabelValues(host, code).Inc()
}
