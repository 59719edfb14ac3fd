package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdetect/markdetect-go/internal/buildinfo"
	"github.com/markdetect/markdetect-go/internal/conf"
	"github.com/markdetect/markdetect-go/internal/detection"
	"github.com/markdetect/markdetect-go/internal/logger"
	"github.com/markdetect/markdetect-go/internal/mqtt"
	"github.com/markdetect/markdetect-go/internal/observability"
	tu "github.com/markdetect/markdetect-go/internal/testutil"
)

func testSettings(t *testing.T, upstream http.Handler) *conf.Settings {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	s := conf.DefaultSettings()
	s.Service.ImageURL = srv.URL + "/detect/image/"
	s.Service.VideoURL = srv.URL + "/detect/video/"
	s.Service.Timeout = tu.DefaultTestTimeout
	s.Output.VideoBundle = "labels.zip"
	s.Detection.Classes = []string{"Left", "Right"}
	s.Detection.FPS = 25
	return s
}

func TestNew_WiresStack(t *testing.T) {
	archive := tu.BuildZip(t, tu.ZipEntry{Name: "output_video.mp4", Data: tu.MP4Bytes("v")})
	settings := testSettings(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "markdetect", r.UserAgent())
		_, _ = w.Write(archive)
	}))

	m, err := observability.NewTestMetrics()
	require.NoError(t, err)

	var states []detection.State
	a, err := New(settings, WithMetrics(m), WithListener(func(s detection.Snapshot) {
		states = append(states, s.State)
	}))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	req := a.NewRequest(detection.Video)
	assert.Equal(t, 25, req.FPS)
	assert.Equal(t, []string{"Left", "Right"}, req.Classes)
	req.File = &detection.File{Name: "clip.mp4", Data: tu.MP4Bytes("raw")}

	res, err := a.Orchestrator.Submit(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, "labels.zip", res.Annotations.Filename(), "bundle name comes from settings")
	assert.Equal(t, []detection.State{detection.InFlight, detection.Succeeded}, states)

	host := mustHost(t, settings.Service.VideoURL)
	assert.InDelta(t, 1, upstreamRequests(t, m, host, "200"), 0)
	assert.InDelta(t, float64(len(archive)+2*len(tu.MP4Bytes("v"))), m.Handles.LiveBytes(), 0)
}

func TestNew_RecordsUpstreamErrors(t *testing.T) {
	settings := testSettings(t, http.NotFoundHandler())
	m, err := observability.NewTestMetrics()
	require.NoError(t, err)

	a, err := New(settings, WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	req := a.NewRequest(detection.Image)
	req.File = &detection.File{Name: "a.png", Data: tu.PNGBytes("")}
	_, err = a.Orchestrator.Submit(t.Context(), req)
	require.Error(t, err)

	host := mustHost(t, settings.Service.ImageURL)
	assert.InDelta(t, 1, upstreamRequests(t, m, host, "404"), 0)
}

type recordingMQTT struct {
	mu     sync.Mutex
	topics []string
	closed bool
}

func (r *recordingMQTT) Connect(context.Context) error { return nil }
func (r *recordingMQTT) IsConnected() bool             { return true }

func (r *recordingMQTT) Publish(_ context.Context, topic string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return nil
}

func (r *recordingMQTT) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func TestNew_PublishesStateEvents(t *testing.T) {
	settings := testSettings(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(tu.PNGBytes("annotated"))
	}))
	settings.MQTT.Enabled = true
	settings.MQTT.Topic = "roads"

	rec := &recordingMQTT{}
	var states []detection.State
	a, err := New(settings,
		WithMQTTClient(rec),
		WithListener(func(s detection.Snapshot) { states = append(states, s.State) }))
	require.NoError(t, err)
	require.NotNil(t, a.Events)

	req := a.NewRequest(detection.Image)
	req.File = &detection.File{Name: "a.png", Data: tu.PNGBytes("raw")}
	_, err = a.Orchestrator.Submit(t.Context(), req)
	require.NoError(t, err)

	a.Close()

	assert.Equal(t, []detection.State{detection.InFlight, detection.Succeeded}, states, "caller listener still runs")
	assert.Equal(t, []string{"roads/image", "roads/image"}, rec.topics)
	assert.True(t, rec.closed)
}

func TestNew_MQTTDisabledByDefault(t *testing.T) {
	settings := testSettings(t, http.NotFoundHandler())

	a, err := New(settings, WithMQTTClient(&recordingMQTT{}))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.Nil(t, a.Events)
}

var _ mqtt.Client = (*recordingMQTT)(nil)

func TestNew_InvalidEndpoint(t *testing.T) {
	settings := conf.DefaultSettings()
	settings.Service.ImageURL = "localhost:8001"

	_, err := New(settings)
	assert.Error(t, err)
}

func TestSetupTelemetry_DisabledWithoutDSN(t *testing.T) {
	flush, err := SetupTelemetry(conf.DefaultSettings(), buildinfo.NewContext("1.0.0", ""))
	require.NoError(t, err)
	require.NotNil(t, flush)
	flush()
}

func TestSetupLogging_Debug(t *testing.T) {
	settings := conf.DefaultSettings()
	settings.Debug = true
	settings.Logging.Console.Enabled = false

	prev := logger.Global()
	t.Cleanup(func() { logger.SetGlobal(prev) })

	require.NoError(t, SetupLogging(settings))
	assert.NotNil(t, logger.Global().Module("app"))
}

// upstreamRequests reads markdetect_upstream_requests_total for host and status.
func upstreamRequests(t *testing.T, m *observability.Metrics, host, status string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "markdetect_upstream_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["host"] == host && labels["status_code"] == status {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func mustHost(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Host
}
