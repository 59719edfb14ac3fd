package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectionMetrics_RecordSubmission(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewDetectionMetrics(registry)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		kind   string
		status string
		reason string
		label  string
	}{
		{"success", "video", StatusSuccess, "", "none"},
		{"failed transport", "video", StatusFailed, "network", "network"},
		{"rejected input", "image", StatusRejected, "missing-input", "missing-input"},
		{"busy", "image", StatusBusy, "state", "state"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m.RecordSubmission(tc.kind, tc.status, tc.reason)
			count := testutil.ToFloat64(m.submissionsTotal.WithLabelValues(tc.kind, tc.status, tc.label))
			assert.InDelta(t, 1, count, 0)
		})
	}
}

func TestDetectionMetrics_ShapesAndInFlight(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewDetectionMetrics(registry)
	require.NoError(t, err)

	m.RecordPayloadShape("video", "archive")
	m.RecordPayloadShape("video", "archive")
	m.RecordPayloadShape("image", "direct")
	assert.InDelta(t, 2, testutil.ToFloat64(m.payloadShapes.WithLabelValues("video", "archive")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.payloadShapes.WithLabelValues("image", "direct")), 0)

	m.SetInFlight("video", true)
	assert.InDelta(t, 1, testutil.ToFloat64(m.inFlight.WithLabelValues("video")), 0)
	m.SetInFlight("video", false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.inFlight.WithLabelValues("video")), 0)

	m.ObserveDuration("video", 1.5)
	m.ObserveResponseSize("video", 2048)
	assert.Equal(t, 5, testutil.CollectAndCount(m))
}

func TestDetectionMetrics_DoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewDetectionMetrics(registry)
	require.NoError(t, err)

	_, err = NewDetectionMetrics(registry)
	assert.Error(t, err)
}

func TestHandleMetrics_Lifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewHandleMetrics(registry)
	require.NoError(t, err)

	m.HandleCreated("video-display", 100)
	m.HandleCreated("video-download", 100)
	m.HandleRevoked("video-display", "superseded", 100)

	assert.InDelta(t, 0, testutil.ToFloat64(m.liveHandles.WithLabelValues("video-display")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.liveHandles.WithLabelValues("video-download")), 0)
	assert.InDelta(t, 100, m.LiveBytes(), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.revokedTotal.WithLabelValues("video-display", "superseded")), 0)

	m.RecordResolve(true)
	m.RecordResolve(false)
	m.RecordResolve(false)
	assert.InDelta(t, 2, testutil.ToFloat64(m.resolvesTotal.WithLabelValues("miss")), 0)
}

func TestHTTPMetrics_Record(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(registry)
	require.NoError(t, err)

	m.RecordHTTPRequest("POST", "/api/v1/detect/:kind", 409, 0.002)
	m.RecordRateLimited("/api/v1/detect/:kind")
	m.RecordUpstreamRequest("detector:8000", 200)
	m.RecordUpstreamRequest("detector:8000", 0)

	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("POST", "/api/v1/detect/:kind", "409")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.rateLimited.WithLabelValues("/api/v1/detect/:kind")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.upstreamRequestsTotal.WithLabelValues("detector:8000", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.upstreamRequestsTotal.WithLabelValues("detector:8000", "200")), 0)
}
