package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics tracks the state event publisher.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesDelivered prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	Errors            prometheus.Counter
	MessageSize       prometheus.Histogram
	PublishLatency    prometheus.Histogram
	registry          *prometheus.Registry
}

// NewMQTTMetrics creates and registers MQTT metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.ConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "markdetect_mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})

	m.MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "markdetect_mqtt_messages_delivered_total",
		Help: "State events delivered to the broker",
	})

	m.MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "markdetect_mqtt_messages_dropped_total",
		Help: "State events not delivered",
	}, []string{"reason"}) // reason: queue_full, disconnected, error

	m.Errors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "markdetect_mqtt_errors_total",
		Help: "MQTT connection and publish errors",
	})

	m.MessageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "markdetect_mqtt_message_size_bytes",
		Help:    "Size of published state events in bytes",
		Buckets: prometheus.ExponentialBuckets(64, BucketFactor2, 10),
	})

	m.PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "markdetect_mqtt_publish_latency_seconds",
		Help:    "Latency of MQTT publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, 10),
	})
}

// UpdateConnectionStatus sets the connection gauge.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.ConnectionStatus.Set(1)
	} else {
		m.ConnectionStatus.Set(0)
	}
}

// RecordDelivered counts one delivered message of size bytes published in d.
func (m *MQTTMetrics) RecordDelivered(size int, d time.Duration) {
	m.MessagesDelivered.Inc()
	m.MessageSize.Observe(float64(size))
	m.PublishLatency.Observe(d.Seconds())
}

// RecordDropped counts a message that was never delivered.
func (m *MQTTMetrics) RecordDropped(reason string) {
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// IncrementErrors counts a connection or publish error.
func (m *MQTTMetrics) IncrementErrors() {
	m.Errors.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ConnectionStatus.Desc()
	ch <- m.MessagesDelivered.Desc()
	m.MessagesDropped.Describe(ch)
	ch <- m.Errors.Desc()
	ch <- m.MessageSize.Desc()
	ch <- m.PublishLatency.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ConnectionStatus
	ch <- m.MessagesDelivered
	m.MessagesDropped.Collect(ch)
	ch <- m.Errors
	ch <- m.MessageSize
	ch <- m.PublishLatency
}
