package detection

import (
	"bytes"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/testutil"
)

func TestNewRequest_Defaults(t *testing.T) {
	r := NewRequest(Video)

	assert.Equal(t, Video, r.Kind)
	assert.InDelta(t, 0.9, r.Confidence, 0)
	assert.Equal(t, 15, r.FPS)
	assert.Equal(t, ModelSmall, r.Model)
	assert.Equal(t, Classes(), r.Classes)
	assert.Len(t, r.Classes, 10)
	assert.Nil(t, r.File)
}

func TestRequest_Validate(t *testing.T) {
	file := &File{Name: "clip.mp4", Data: testutil.MP4Bytes("")}

	tests := []struct {
		name     string
		mutate   func(r *Request)
		sentinel error
		category errors.ErrorCategory
	}{
		{"valid", func(r *Request) {}, nil, ""},
		{"no file", func(r *Request) { r.File = nil }, errors.ErrMissingInput, errors.CategoryInput},
		{"empty file", func(r *Request) { r.File = &File{Name: "x.mp4"} }, errors.ErrMissingInput, errors.CategoryInput},
		{"confidence above 1", func(r *Request) { r.Confidence = 1.01 }, errors.ErrInvalidRange, errors.CategoryRange},
		{"confidence negative", func(r *Request) { r.Confidence = -0.1 }, errors.ErrInvalidRange, errors.CategoryRange},
		{"confidence NaN", func(r *Request) { r.Confidence = math.NaN() }, errors.ErrInvalidRange, errors.CategoryRange},
		{"confidence bounds inclusive", func(r *Request) { r.Confidence = 1 }, nil, ""},
		{"fps too low", func(r *Request) { r.FPS = 4 }, errors.ErrInvalidRange, errors.CategoryRange},
		{"fps too high", func(r *Request) { r.FPS = 61 }, errors.ErrInvalidRange, errors.CategoryRange},
		{"fps bounds inclusive", func(r *Request) { r.FPS = 60 }, nil, ""},
		{"unknown model", func(r *Request) { r.Model = "large" }, nil, errors.CategoryValidation},
		{"no classes", func(r *Request) { r.Classes = nil }, nil, errors.CategoryValidation},
		{"unknown class", func(r *Request) { r.Classes = []string{"Left", "U-Turn"} }, nil, errors.CategoryValidation},
		{"unknown kind", func(r *Request) { r.Kind = "audio" }, nil, errors.CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRequest(Video)
			r.File = file
			tt.mutate(&r)

			err := r.Validate()
			if tt.category == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category), "category of %v", err)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			assert.True(t, errors.IsUserError(err))
		})
	}
}

func TestRequest_ValidateImageIgnoresFPS(t *testing.T) {
	r := NewRequest(Image)
	r.File = &File{Name: "road.png", Data: testutil.PNGBytes("")}
	r.FPS = 0

	assert.NoError(t, r.Validate())
}

func TestRequest_EncodeVideo(t *testing.T) {
	r := NewRequest(Video)
	r.File = &File{Name: "clip.mp4", Data: testutil.MP4Bytes("frames")}
	r.Confidence = 0.75
	r.FPS = 30
	r.Model = ModelBase
	r.Classes = []string{"Left", "Straight", "Left"}

	body, contentType, err := r.Encode()
	require.NoError(t, err)

	parts := readParts(t, body, contentType)
	require.Len(t, parts, 6)

	assert.Equal(t, "video", parts[0].name)
	assert.Equal(t, "clip.mp4", parts[0].filename)
	assert.Equal(t, "video/mp4", parts[0].contentType)
	assert.Equal(t, testutil.MP4Bytes("frames"), parts[0].data)

	assert.Equal(t, [][2]string{
		{"confidence_model", "0.75"},
		{"fps", "30"},
		{"model_selector", "base"},
		{"clase_interes", "Left"},
		{"clase_interes", "Straight"},
	}, fieldPairs(parts[1:]))
}

func TestRequest_EncodeImageOmitsFPS(t *testing.T) {
	r := NewRequest(Image)
	r.File = &File{Data: testutil.PNGBytes("")}
	r.Classes = []string{"Turn Around"}

	body, contentType, err := r.Encode()
	require.NoError(t, err)

	parts := readParts(t, body, contentType)
	require.Len(t, parts, 4)
	assert.Equal(t, "image", parts[0].name)
	assert.Equal(t, "image", parts[0].filename, "kind is used when the upload has no name")
	assert.Equal(t, "image/png", parts[0].contentType)
	assert.Equal(t, [][2]string{
		{"confidence_model", "0.9"},
		{"model_selector", "small"},
		{"clase_interes", "Turn Around"},
	}, fieldPairs(parts[1:]))
}

func TestNormalizeClasses(t *testing.T) {
	got, err := NormalizeClasses([]string{" Right ", "Left", "Right"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Right", "Left"}, got)

	_, err = NormalizeClasses([]string{"left"})
	assert.Error(t, err, "matching is case sensitive")
}

func TestClasses_ReturnsCopy(t *testing.T) {
	c := Classes()
	c[0] = "mutated"
	assert.Equal(t, "Turn Around", Classes()[0])
}

func TestParseMediaKindAndModel(t *testing.T) {
	k, err := ParseMediaKind(" Video ")
	require.NoError(t, err)
	assert.Equal(t, Video, k)
	_, err = ParseMediaKind("audio")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	m, err := ParseModelVariant("BASE")
	require.NoError(t, err)
	assert.Equal(t, ModelBase, m)
	_, err = ParseModelVariant("huge")
	assert.Error(t, err)
}

func TestMediaKind_MediaFilename(t *testing.T) {
	tests := []struct {
		kind      MediaKind
		mediaType string
		want      string
	}{
		{Image, "image/png", "output_image.png"},
		{Image, "image/jpeg", "output_image.jpeg"},
		{Image, "image/webp", "output_image.webp"},
		{Image, "application/x-no-such-type", "output_image.png"},
		{Video, "application/x-no-such-type", "output_video.mp4"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+" "+tt.mediaType, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.MediaFilename(tt.mediaType))
		})
	}
}

type formPart struct {
	name        string
	filename    string
	contentType string
	data        []byte
}

func readParts(t *testing.T, body []byte, contentType string) []formPart {
	t.Helper()

	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	var parts []formPart
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(p)
		require.NoError(t, err)
		parts = append(parts, formPart{
			name:        p.FormName(),
			filename:    p.FileName(),
			contentType: p.Header.Get("Content-Type"),
			data:        data,
		})
	}
	return parts
}

func fieldPairs(parts []formPart) [][2]string {
	out := make([][2]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, [2]string{p.name, string(p.data)})
	}
	return out
}
