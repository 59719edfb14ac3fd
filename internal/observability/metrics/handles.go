package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// HandleMetrics tracks resource handle lifecycle and retained memory.
type HandleMetrics struct {
	registry *prometheus.Registry

	liveHandles   *prometheus.GaugeVec
	liveBytes     prometheus.Gauge
	createdTotal  *prometheus.CounterVec
	revokedTotal  *prometheus.CounterVec
	resolvesTotal *prometheus.CounterVec
}

// NewHandleMetrics creates and registers handle metrics.
func NewHandleMetrics(registry *prometheus.Registry) (*HandleMetrics, error) {
	m := &HandleMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register handle metrics: %w", err)
	}
	return m, nil
}

func (m *HandleMetrics) initMetrics() {
	m.liveHandles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "markdetect_handles_live",
			Help: "Live resource handles per category",
		},
		[]string{"category"},
	)

	m.liveBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "markdetect_handles_live_bytes",
			Help: "Bytes retained by live resource handles",
		},
	)

	m.createdTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markdetect_handles_created_total",
			Help: "Resource handles created",
		},
		[]string{"category"},
	)

	m.revokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markdetect_handles_revoked_total",
			Help: "Resource handles revoked",
		},
		[]string{"category", "reason"}, // reason: superseded, explicit, teardown
	)

	m.resolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markdetect_handle_resolves_total",
			Help: "Handle lookups by ID",
		},
		[]string{"result"}, // result: hit, miss
	)
}

// Describe implements the prometheus.Collector interface.
func (m *HandleMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.liveHandles.Describe(ch)
	ch <- m.liveBytes.Desc()
	m.createdTotal.Describe(ch)
	m.revokedTotal.Describe(ch)
	m.resolvesTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *HandleMetrics) Collect(ch chan<- prometheus.Metric) {
	m.liveHandles.Collect(ch)
	ch <- m.liveBytes
	m.createdTotal.Collect(ch)
	m.revokedTotal.Collect(ch)
	m.resolvesTotal.Collect(ch)
}

// HandleCreated records a new live handle of size bytes.
func (m *HandleMetrics) HandleCreated(category string, size int) {
	m.createdTotal.WithLabelValues(category).Inc()
	m.liveHandles.WithLabelValues(category).Inc()
	m.liveBytes.Add(float64(size))
}

// HandleRevoked records the release of a handle of size bytes.
func (m *HandleMetrics) HandleRevoked(category, reason string, size int) {
	m.revokedTotal.WithLabelValues(category, reason).Inc()
	m.liveHandles.WithLabelValues(category).Dec()
	m.liveBytes.Sub(float64(size))
}

// RecordResolve counts a lookup by ID.
func (m *HandleMetrics) RecordResolve(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.resolvesTotal.WithLabelValues(result).Inc()
}

// LiveBytes returns the current retained byte count.
func (m *HandleMetrics) LiveBytes() float64 {
	metric := &dto.Metric{}
	if err := m.liveBytes.Write(metric); err != nil {
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}
