package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdetect/markdetect-go/internal/detection"
	"github.com/markdetect/markdetect-go/internal/handles"
	"github.com/markdetect/markdetect-go/internal/httpclient"
	"github.com/markdetect/markdetect-go/internal/observability/metrics"
)

type message struct {
	topic   string
	payload []byte
}

// fakeClient records publishes. block, when set, holds every publish until closed.
type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	messages     []message
	disconnected bool
	block        chan struct{}
	published    chan struct{}
}

func newFakeClient(connected bool) *fakeClient {
	return &fakeClient{connected: connected, published: make(chan struct{}, 64)}
}

func (f *fakeClient) Connect(context.Context) error { return nil }

func (f *fakeClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.messages = append(f.messages, message{topic: topic, payload: payload})
	f.mu.Unlock()
	f.published <- struct{}{}
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeClient) snapshot() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func newMQTTMetrics(t *testing.T) *metrics.MQTTMetrics {
	t.Helper()
	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestPublisher_PublishesSnapshotsPerKind(t *testing.T) {
	fc := newFakeClient(true)
	p := NewPublisher(fc, "roads")

	listen := p.Listener()
	listen(detection.Snapshot{Kind: detection.Video, State: detection.InFlight, RequestID: "r1"})
	listen(detection.Snapshot{Kind: detection.Image, State: detection.Failed, Error: "Error contacting the detection service"})
	p.Close()

	msgs := fc.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "roads/video", msgs[0].topic)
	assert.Equal(t, "roads/image", msgs[1].topic)

	var got detection.Snapshot
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, detection.InFlight, got.State)
	assert.Equal(t, "r1", got.RequestID)
	assert.JSONEq(t, `"in_flight"`, mustJSON(t, got.State))

	assert.True(t, fc.disconnected, "Close disconnects the client")
}

func TestPublisher_DropsWhileDisconnected(t *testing.T) {
	fc := newFakeClient(false)
	m := newMQTTMetrics(t)
	p := NewPublisher(fc, "roads", WithMetrics(m))

	p.Listener()(detection.Snapshot{Kind: detection.Image, State: detection.Succeeded})
	p.Close()

	assert.Empty(t, fc.snapshot())
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(dropDisconnected)), 0)
}

func TestPublisher_QueueFullDoesNotBlock(t *testing.T) {
	fc := newFakeClient(true)
	fc.block = make(chan struct{})
	m := newMQTTMetrics(t)
	p := NewPublisher(fc, "roads", WithMetrics(m), WithQueueSize(1))

	listen := p.Listener()
	done := make(chan struct{})
	go func() {
		defer close(done)
		// The worker holds the first event, the queue holds the second.
		for range 4 {
			listen(detection.Snapshot{Kind: detection.Video, State: detection.InFlight})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener blocked on a full queue")
	}

	close(fc.block)
	p.Close()

	delivered := len(fc.snapshot())
	dropped := testutil.ToFloat64(m.MessagesDropped.WithLabelValues(dropQueueFull))
	assert.Equal(t, 4, delivered+int(dropped))
	assert.GreaterOrEqual(t, dropped, float64(2))
}

func TestPublisher_ListenerAfterCloseIsNoop(t *testing.T) {
	fc := newFakeClient(true)
	p := NewPublisher(fc, "roads")
	p.Close()
	p.Close()

	assert.NotPanics(t, func() {
		p.Listener()(detection.Snapshot{Kind: detection.Image})
	})
	assert.Empty(t, fc.snapshot())
}

func TestPublisher_OrchestratorIntegration(t *testing.T) {
	fc := newFakeClient(true)
	p := NewPublisher(fc, "markdetect")
	t.Cleanup(p.Close)

	orch, err := detection.New(detection.Config{
		ImageURL: "http://localhost:8001/detect/image/",
		VideoURL: "http://localhost:8001/detect/video/",
	}, httpclient.New(nil), handles.NewManager(), detection.WithListener(p.Listener()))
	require.NoError(t, err)
	require.NoError(t, orch.Reset(detection.Image))

	select {
	case <-fc.published:
	case <-time.After(time.Second):
		t.Fatal("reset did not publish a state event")
	}
	assert.Equal(t, "markdetect/image", fc.snapshot()[0].topic)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
