package detect

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdetect/markdetect-go/internal/app"
	"github.com/markdetect/markdetect-go/internal/conf"
	"github.com/markdetect/markdetect-go/internal/detection"
	"github.com/markdetect/markdetect-go/internal/errors"
	tu "github.com/markdetect/markdetect-go/internal/testutil"
)

func newTestApp(t *testing.T, handler http.HandlerFunc) *app.App {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	settings := conf.DefaultSettings()
	settings.Service.ImageURL = srv.URL + "/detect/image/"
	settings.Service.VideoURL = srv.URL + "/detect/video/"
	settings.Service.Timeout = tu.DefaultTestTimeout

	a, err := app.New(settings)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func writeInput(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestRun_VideoArchive(t *testing.T) {
	video := tu.MP4Bytes("processed")
	archive := tu.BuildZip(t,
		tu.ZipEntry{Name: "output_video.mp4", Data: video},
		tu.ZipEntry{Name: "labels/frame_0001.txt", Data: []byte("0 0.5 0.5 0.1 0.1\n")},
	)
	a := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect/video/", r.URL.Path)
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(archive)
	})

	outDir := filepath.Join(t.TempDir(), "out")
	var out bytes.Buffer
	err := Run(t.Context(), a, Options{
		Kind:      detection.Video,
		Input:     writeInput(t, "clip.mp4", tu.MP4Bytes("raw")),
		OutputDir: outDir,
	}, &out)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(outDir, "output_video.mp4"))
	require.NoError(t, err)
	assert.Equal(t, video, got)

	bundle, err := os.ReadFile(filepath.Join(outDir, detection.DefaultVideoBundleName))
	require.NoError(t, err)
	assert.Equal(t, archive, bundle)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "display and download share one file")
	assert.Contains(t, out.String(), "Detection video complete (archive response)")
}

func TestRun_ImageDirect(t *testing.T) {
	img := tu.PNGBytes("annotated")
	a := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	})

	outDir := t.TempDir()
	err := Run(t.Context(), a, Options{
		Kind:      detection.Image,
		Input:     writeInput(t, "road.png", tu.PNGBytes("raw")),
		OutputDir: outDir,
	}, &bytes.Buffer{})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(outDir, "output_image.png"))
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestRun_MissingInputFile(t *testing.T) {
	calls := 0
	a := newTestApp(t, func(w http.ResponseWriter, r *http.Request) { calls++ })

	err := Run(t.Context(), a, Options{
		Kind:      detection.Image,
		Input:     filepath.Join(t.TempDir(), "absent.png"),
		OutputDir: t.TempDir(),
	}, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
	assert.Zero(t, calls)
}

func TestRun_UpstreamFailure(t *testing.T) {
	a := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	})

	outDir := filepath.Join(t.TempDir(), "out")
	err := Run(t.Context(), a, Options{
		Kind:      detection.Image,
		Input:     writeInput(t, "road.png", tu.PNGBytes("raw")),
		OutputDir: outDir,
	}, &bytes.Buffer{})
	require.Error(t, err)
	require.ErrorIs(t, err, errors.ErrTransport)
	assert.Contains(t, err.Error(), "Error contacting the detection service")

	_, statErr := os.Stat(outDir)
	assert.True(t, os.IsNotExist(statErr), "nothing written on failure")
}
