package archive

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/testutil"
)

func TestOpenFindMaterialize_RoundTrip(t *testing.T) {
	video := testutil.MP4Bytes("frames")
	labels := []byte("0 0.5 0.5 0.1 0.1\n")
	data := testutil.BuildZip(t,
		testutil.ZipEntry{Name: "output_video.mp4", Data: video},
		testutil.ZipEntry{Name: "labels/frame_0001.txt", Data: labels, Store: true},
	)

	r, err := Open(data)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), r.Size())
	assert.Equal(t, []string{"output_video.mp4", "labels/frame_0001.txt"}, r.Names())

	entry, err := r.Find("output_video.mp4")
	require.NoError(t, err)
	assert.Equal(t, "output_video.mp4", entry.Name())
	assert.Equal(t, int64(len(video)), entry.Size())

	got, err := entry.Materialize()
	require.NoError(t, err)
	assert.Equal(t, video, got)

	other, err := r.Find("labels/frame_0001.txt")
	require.NoError(t, err)
	gotLabels, err := other.Materialize()
	require.NoError(t, err)
	assert.Equal(t, labels, gotLabels)
}

func TestMaterialize_Idempotent(t *testing.T) {
	payload := bytes.Repeat([]byte("road marking "), 1000)
	r, err := Open(testutil.BuildZip(t, testutil.ZipEntry{Name: "a.bin", Data: payload}))
	require.NoError(t, err)

	entry, err := r.Find("a.bin")
	require.NoError(t, err)

	first, err := entry.Materialize()
	require.NoError(t, err)
	second, err := entry.Materialize()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	first[0] = 'X'
	assert.Equal(t, payload, second, "results must not share backing storage")
}

func TestOpen_CorruptArchive(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"png", testutil.PNGBytes("not a zip")},
		{"text", []byte("PK but not really")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Open(tt.data)
			require.Error(t, err)
			assert.Nil(t, r)
			assert.ErrorIs(t, err, errors.ErrCorruptArchive)
			var ee *errors.EnhancedError
			assert.False(t, errors.As(err, &ee), "open failures are left for the caller to report")
		})
	}
}

func TestFind_EntryNotFound(t *testing.T) {
	r, err := Open(testutil.BuildZip(t,
		testutil.ZipEntry{Name: "labels/", Data: nil},
		testutil.ZipEntry{Name: "output_image.png", Data: testutil.PNGBytes("")},
	))
	require.NoError(t, err)

	_, err = r.Find("output_video.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEntryNotFound)
	assert.True(t, errors.IsNotFound(err))

	_, err = r.Find("labels/")
	assert.ErrorIs(t, err, errors.ErrEntryNotFound, "directories are not findable")
}

func TestMaterialize_TooLarge(t *testing.T) {
	r, err := Open(testutil.BuildZip(t, testutil.ZipEntry{Name: "big.bin", Data: make([]byte, 1024)}),
		WithMaxEntrySize(512))
	require.NoError(t, err)

	entry, err := r.Find("big.bin")
	require.NoError(t, err)

	_, err = entry.Materialize()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEntryTooLarge)
}

func TestMaterialize_CorruptEntry(t *testing.T) {
	payload := []byte("stored payload that will be damaged")
	data := testutil.BuildZip(t, testutil.ZipEntry{Name: "x.txt", Data: payload, Store: true})

	// Flip a byte inside the stored payload so the CRC check fails on read.
	idx := bytes.Index(data, payload)
	require.Positive(t, idx)
	damaged := bytes.Clone(data)
	damaged[idx] ^= 0xff

	r, err := Open(damaged)
	require.NoError(t, err)
	entry, err := r.Find("x.txt")
	require.NoError(t, err)

	_, err = entry.Materialize()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCorruptArchive)
}
