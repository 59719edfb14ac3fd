package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DetectionMetrics contains Prometheus metrics for detection submissions.
type DetectionMetrics struct {
	registry *prometheus.Registry

	submissionsTotal   *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec
	payloadShapes      *prometheus.CounterVec
	responseSize       *prometheus.HistogramVec
	inFlight           *prometheus.GaugeVec
}

// NewDetectionMetrics creates and registers detection metrics.
func NewDetectionMetrics(registry *prometheus.Registry) (*DetectionMetrics, error) {
	m := &DetectionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register detection metrics: %w", err)
	}
	return m, nil
}

func (m *DetectionMetrics) initMetrics() {
	m.submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markdetect_submissions_total",
			Help: "Total number of detection submissions by outcome",
		},
		[]string{"kind", "status", "reason"}, // status: success, failed, rejected, busy; reason: error category or "none"
	)

	m.submissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markdetect_submission_duration_seconds",
			Help:    "Time from dispatch to a terminal state",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount16), // 10ms to ~5.5min
		},
		[]string{"kind"},
	)

	m.payloadShapes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markdetect_payload_shapes_total",
			Help: "Classified response shapes",
		},
		[]string{"kind", "shape"}, // shape: direct, archive
	)

	m.responseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markdetect_response_size_bytes",
			Help:    "Size of detection service response bodies",
			Buckets: prometheus.ExponentialBuckets(BucketStart1KB, BucketFactor4, BucketCount11), // 1KB to ~1GB
		},
		[]string{"kind"},
	)

	m.inFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "markdetect_submissions_in_flight",
			Help: "Submissions currently awaiting the detection service",
		},
		[]string{"kind"},
	)
}

// Describe implements the prometheus.Collector interface.
func (m *DetectionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.submissionsTotal.Describe(ch)
	m.submissionDuration.Describe(ch)
	m.payloadShapes.Describe(ch)
	m.responseSize.Describe(ch)
	m.inFlight.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DetectionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.submissionsTotal.Collect(ch)
	m.submissionDuration.Collect(ch)
	m.payloadShapes.Collect(ch)
	m.responseSize.Collect(ch)
	m.inFlight.Collect(ch)
}

// RecordSubmission counts a finished or rejected submission.
func (m *DetectionMetrics) RecordSubmission(kind, status, reason string) {
	if reason == "" {
		reason = "none"
	}
	m.submissionsTotal.WithLabelValues(kind, status, reason).Inc()
}

// ObserveDuration records how long a submission took, in seconds.
func (m *DetectionMetrics) ObserveDuration(kind string, seconds float64) {
	m.submissionDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordPayloadShape counts a classified response.
func (m *DetectionMetrics) RecordPayloadShape(kind, shape string) {
	m.payloadShapes.WithLabelValues(kind, shape).Inc()
}

// ObserveResponseSize records the size of a response body.
func (m *DetectionMetrics) ObserveResponseSize(kind string, size int) {
	m.responseSize.WithLabelValues(kind).Observe(float64(size))
}

// SetInFlight marks whether a submission of kind is awaiting the service.
func (m *DetectionMetrics) SetInFlight(kind string, inFlight bool) {
	v := 0.0
	if inFlight {
		v = 1
	}
	m.inFlight.WithLabelValues(kind).Set(v)
}
