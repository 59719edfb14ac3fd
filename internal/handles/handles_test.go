package handles

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/logger"
	"github.com/markdetect/markdetect-go/internal/observability/metrics"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelDebug, time.UTC))}, opts...)
	m := NewManager(opts...)
	t.Cleanup(m.Close)
	return m
}

func TestCreate_SupersedesSameCategory(t *testing.T) {
	m := newTestManager(t)

	h1, err := m.Create(VideoDisplay, []byte("first"), "video/mp4", "")
	require.NoError(t, err)
	h2, err := m.Create(VideoDisplay, []byte("second"), "video/mp4", "")
	require.NoError(t, err)

	assert.NotEqual(t, h1.ID(), h2.ID())
	assert.True(t, h1.Revoked(), "prior handle must be revoked before the new one is returned")
	assert.False(t, h2.Revoked())
	assert.Same(t, h2, m.Live(VideoDisplay))
	assert.Equal(t, []byte("second"), h2.Data())

	assert.Panics(t, func() { _ = h1.Data() }, "dereferencing a revoked handle is a logic error")
	assert.Panics(t, func() { _ = h1.Reader() })

	_, err = m.Resolve(h1.ID())
	assert.ErrorIs(t, err, errors.ErrHandleNotFound)
	assert.Equal(t, 1, m.LiveCount())
}

func TestCreate_CategoriesAreIndependent(t *testing.T) {
	m := newTestManager(t)

	display, err := m.Create(VideoDisplay, []byte("v"), "video/mp4", "")
	require.NoError(t, err)
	download, err := m.Create(VideoDownload, []byte("v"), "video/mp4", "output_video.mp4")
	require.NoError(t, err)
	image, err := m.Create(ImageDisplay, []byte("i"), "image/png", "")
	require.NoError(t, err)

	assert.False(t, display.Revoked())
	assert.False(t, download.Revoked())
	assert.False(t, image.Revoked())
	assert.Equal(t, 3, m.LiveCount())
	assert.Equal(t, "output_video.mp4", download.Filename())
}

func TestCreateAll_InvalidSpecTouchesNothing(t *testing.T) {
	m := newTestManager(t)

	prior, err := m.Create(ImageDisplay, []byte("prior"), "image/png", "")
	require.NoError(t, err)

	tests := []struct {
		name  string
		specs []Spec
	}{
		{"unknown category", []Spec{
			{Category: ImageDisplay, Data: []byte("new"), MediaType: "image/png"},
			{Category: "audio-display", Data: []byte("x"), MediaType: "audio/wav"},
		}},
		{"empty blob", []Spec{
			{Category: ImageDisplay, Data: []byte("new"), MediaType: "image/png"},
			{Category: ImageAnnotations, Data: nil, MediaType: "application/zip"},
		}},
		{"missing media type", []Spec{{Category: ImageDisplay, Data: []byte("new")}}},
		{"duplicate category", []Spec{
			{Category: ImageDisplay, Data: []byte("a"), MediaType: "image/png"},
			{Category: ImageDisplay, Data: []byte("b"), MediaType: "image/png"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs, err := m.CreateAll(tt.specs...)
			require.Error(t, err)
			assert.Nil(t, hs)
			assert.True(t, errors.IsCategory(err, errors.CategoryResource))
			assert.False(t, prior.Revoked())
			assert.Same(t, prior, m.Live(ImageDisplay))
			assert.Equal(t, 1, m.LiveCount())
		})
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	hm, err := metrics.NewHandleMetrics(reg)
	require.NoError(t, err)
	m := newTestManager(t, WithMetrics(hm))

	h, err := m.Create(ImageAnnotations, []byte("zipbytes"), "application/zip", "output_files.zip")
	require.NoError(t, err)
	assert.InDelta(t, 8, hm.LiveBytes(), 0)

	m.Revoke(h)
	m.Revoke(h)
	m.Revoke(nil)

	assert.True(t, h.Revoked())
	assert.Nil(t, m.Live(ImageAnnotations))
	assert.InDelta(t, 0, hm.LiveBytes(), 0)
	assert.Equal(t, "output_files.zip", h.Descriptor().Filename, "metadata survives revocation")
}

func TestOpen(t *testing.T) {
	m := newTestManager(t)

	h, err := m.Create(VideoDownload, []byte("movie"), "video/mp4", "output_video.mp4")
	require.NoError(t, err)

	desc, r, err := m.Open(h.ID())
	require.NoError(t, err)
	assert.Equal(t, h.Descriptor(), desc)

	// The captured reader stays usable after the handle is superseded.
	_, err = m.Create(VideoDownload, []byte("other"), "video/mp4", "output_video.mp4")
	require.NoError(t, err)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("movie"), got)

	_, _, err = m.Open(h.ID())
	assert.ErrorIs(t, err, errors.ErrHandleNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestClose_RevokesEverything(t *testing.T) {
	m := NewManager(WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelInfo, time.UTC)))

	var hs []*Handle
	for _, c := range Categories {
		h, err := m.Create(c, []byte(c), "application/octet-stream", "")
		require.NoError(t, err)
		hs = append(hs, h)
	}

	m.Close()

	for _, h := range hs {
		assert.True(t, h.Revoked())
	}
	assert.Zero(t, m.LiveCount())

	_, err := m.Create(ImageDisplay, []byte("late"), "image/png", "")
	assert.Error(t, err)
}

func TestManager_ConcurrentCreateKeepsOneLive(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Go(func() {
			_, err := m.Create(VideoDisplay, bytes.Repeat([]byte{byte(i)}, 16), "video/mp4", "")
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	assert.Equal(t, 1, m.LiveCount())
	assert.NotNil(t, m.Live(VideoDisplay))
}

func TestCategory_Valid(t *testing.T) {
	for _, c := range Categories {
		assert.True(t, c.Valid(), c)
	}
	assert.False(t, Category("").Valid())
	assert.False(t, Category("annotation-download").Valid())
}
