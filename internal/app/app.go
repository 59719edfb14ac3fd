// Package app wires settings into the running components: logging, telemetry,
// the detection client, the handle manager and the orchestrator.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/markdetect/markdetect-go/internal/buildinfo"
	"github.com/markdetect/markdetect-go/internal/conf"
	"github.com/markdetect/markdetect-go/internal/detection"
	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/handles"
	"github.com/markdetect/markdetect-go/internal/httpclient"
	"github.com/markdetect/markdetect-go/internal/logger"
	"github.com/markdetect/markdetect-go/internal/mqtt"
	"github.com/markdetect/markdetect-go/internal/observability"
	"github.com/markdetect/markdetect-go/internal/observability/metrics"
	"github.com/markdetect/markdetect-go/internal/privacy"
)

// sentryFlushTimeout bounds how long shutdown waits for queued telemetry.
const sentryFlushTimeout = 2 * time.Second

// App holds the components built from one Settings.
type App struct {
	Settings     *conf.Settings
	Metrics      *observability.Metrics // nil unless WithMetrics
	Client       *httpclient.Client
	Handles      *handles.Manager
	Orchestrator *detection.Orchestrator
	Events       *mqtt.Publisher // nil unless mqtt.enabled

	log logger.Logger
}

// Option configures New.
type Option func(*options)

type options struct {
	metrics    *observability.Metrics
	listener   detection.Listener
	mqttClient mqtt.Client
}

// WithMetrics records detection, handle and upstream metrics to m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithListener forwards flow state changes to fn.
func WithListener(fn detection.Listener) Option {
	return func(o *options) { o.listener = fn }
}

// WithMQTTClient publishes state events through c instead of a client built
// from settings. It has no effect unless mqtt.enabled is set.
func WithMQTTClient(c mqtt.Client) Option {
	return func(o *options) { o.mqttClient = c }
}

// New builds the detection stack for settings.
func New(settings *conf.Settings, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := logger.Global().Module("app")

	client := httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.Service.Timeout,
		UserAgent:      settings.Service.UserAgent,
	})
	client.SetBeforeRequestHook(func(req *http.Request) {
		log.Debug("detection service request",
			logger.String("method", req.Method),
			logger.String("host", req.URL.Host),
			logger.Int64("content_length", req.ContentLength))
	})
	if o.metrics != nil {
		client.SetAfterResponseHook(func(req *http.Request, resp *http.Response, err error) {
			status := 0
			if err == nil && resp != nil {
				status = resp.StatusCode
			}
			o.metrics.HTTP.RecordUpstreamRequest(req.URL.Host, status)
		})
	}

	handleOpts := []handles.Option{}
	if o.metrics != nil {
		handleOpts = append(handleOpts, handles.WithMetrics(o.metrics.Handles))
	}
	mgr := handles.NewManager(handleOpts...)

	var events *mqtt.Publisher
	if settings.MQTT.Enabled {
		events = newEventPublisher(settings, o, log)
	}

	orchOpts := []detection.Option{}
	if o.metrics != nil {
		orchOpts = append(orchOpts, detection.WithMetrics(o.metrics.Detection))
	}
	if listener := chainListeners(o.listener, events); listener != nil {
		orchOpts = append(orchOpts, detection.WithListener(listener))
	}

	orch, err := detection.New(detection.Config{
		ImageURL:        settings.Service.ImageURL,
		VideoURL:        settings.Service.VideoURL,
		ImageBundleName: settings.Output.ImageBundle,
		VideoBundleName: settings.Output.VideoBundle,
		MaxEntrySize:    settings.Detection.MaxEntrySize,
		Timeout:         settings.Service.Timeout,
	}, client, mgr, orchOpts...)
	if err != nil {
		if events != nil {
			events.Close()
		}
		mgr.Close()
		client.Close()
		return nil, err
	}

	return &App{
		Settings:     settings,
		Metrics:      o.metrics,
		Client:       client,
		Handles:      mgr,
		Orchestrator: orch,
		Events:       events,
		log:          log,
	}, nil
}

// newEventPublisher connects to the broker and starts publishing. A failed
// connection is logged and events are dropped until the process restarts.
func newEventPublisher(settings *conf.Settings, o options, log logger.Logger) *mqtt.Publisher {
	var m *metrics.MQTTMetrics
	if o.metrics != nil {
		m = o.metrics.MQTT
	}

	client := o.mqttClient
	if client == nil {
		client = mqtt.NewClient(settings, m)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqtt.DefaultConfig().ConnectTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		log.Warn("MQTT broker unavailable, state events will be dropped",
			logger.String("broker", privacy.RedactURL(settings.MQTT.Broker)),
			logger.Error(err))
	}

	return mqtt.NewPublisher(client, settings.MQTT.Topic, mqtt.WithMetrics(m))
}

// chainListeners returns a listener calling fn and then the publisher.
func chainListeners(fn detection.Listener, events *mqtt.Publisher) detection.Listener {
	switch {
	case events == nil:
		return fn
	case fn == nil:
		return events.Listener()
	}
	publish := events.Listener()
	return func(s detection.Snapshot) {
		fn(s)
		publish(s)
	}
}

// NewRequest returns a request of kind populated with the configured defaults.
func (a *App) NewRequest(kind detection.MediaKind) detection.Request {
	d := a.Settings.Detection
	req := detection.NewRequest(kind)
	req.Confidence = d.Confidence
	req.FPS = d.FPS
	req.Model = detection.ModelVariant(d.Model)
	req.Classes = append([]string(nil), d.Classes...)
	return req
}

// Close stops event publishing, revokes every handle and releases idle
// connections.
func (a *App) Close() {
	if a.Events != nil {
		a.Events.Close()
	}
	a.Handles.Close()
	a.Client.Close()
	a.log.Debug("app closed")
}

// SetupLogging installs the central logger described by settings. Debug mode
// lowers the default level to debug.
func SetupLogging(settings *conf.Settings) error {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = string(logger.LogLevelDebug)
		cfg.Console.Level = string(logger.LogLevelDebug)
	}

	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}

// SetupTelemetry initializes Sentry when a DSN is configured and installs it as
// the error reporter. The returned function flushes pending events.
func SetupTelemetry(settings *conf.Settings, bi buildinfo.BuildInfo) (func(), error) {
	if settings.Sentry.DSN == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         settings.Sentry.DSN,
		Environment: settings.Sentry.Environment,
		Release:     "markdetect@" + bi.GetVersion(),
		Debug:       settings.Debug,
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	logger.Global().Module("app").Info("error telemetry enabled",
		logger.String("environment", settings.Sentry.Environment))

	return func() {
		errors.SetTelemetryReporter(nil)
		sentry.Flush(sentryFlushTimeout)
	}, nil
}
