// Package observability provides metrics and monitoring capabilities for the markdetect application.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markdetect/markdetect-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Detection *metrics.DetectionMetrics
	Handles   *metrics.HandleMetrics
	HTTP      *metrics.HTTPMetrics
	MQTT      *metrics.MQTTMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors
// on a private registry together with the Go runtime and process collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	return newMetrics(registry)
}

// NewTestMetrics returns Metrics on a fresh registry without runtime collectors.
func NewTestMetrics() (*Metrics, error) {
	return newMetrics(prometheus.NewRegistry())
}

func newMetrics(registry *prometheus.Registry) (*Metrics, error) {
	detectionMetrics, err := metrics.NewDetectionMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection metrics: %w", err)
	}

	handleMetrics, err := metrics.NewHandleMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create handle metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Detection: detectionMetrics,
		Handles:   handleMetrics,
		HTTP:      httpMetrics,
		MQTT:      mqttMetrics,
	}, nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
