package detection

import (
	"bytes"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/markdetect/markdetect-go/internal/errors"
)

// Multipart field names understood by the detection service.
const (
	fieldConfidence = "confidence_model"
	fieldModel      = "model_selector"
	fieldFPS        = "fps"
	fieldClass      = "clase_interes"
)

// File is an uploaded media file.
type File struct {
	Name string
	Data []byte
}

// Request is one detection submission. Build it with NewRequest to start from
// the defaults; a Request is not modified once submitted.
type Request struct {
	Kind       MediaKind
	File       *File
	Confidence float64
	FPS        int // video only
	Model      ModelVariant
	Classes    []string
}

// NewRequest returns a request for kind with default parameters and every class
// selected.
func NewRequest(kind MediaKind) Request {
	return Request{
		Kind:       kind,
		Confidence: DefaultConfidence,
		FPS:        DefaultFPS,
		Model:      DefaultModel,
		Classes:    Classes(),
	}
}

// Validate checks the request without sending anything. It fails with
// ErrMissingInput when no file is attached, ErrInvalidRange for out-of-bounds
// numbers and a validation error for an unknown kind, model or class.
func (r Request) Validate() error {
	if r.Kind != Image && r.Kind != Video {
		return errors.Newf("unknown media kind %q", r.Kind).
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}

	if r.File == nil || len(r.File.Data) == 0 {
		return errors.New(fmt.Errorf("%w: no %s selected", errors.ErrMissingInput, r.Kind)).
			Component("detection").
			Category(errors.CategoryInput).
			Context("kind", string(r.Kind)).
			Build()
	}

	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return rangeError("confidence", r.Confidence, "[0,1]")
	}

	if r.Kind == Video && (r.FPS < MinFPS || r.FPS > MaxFPS) {
		return rangeError("fps", r.FPS, fmt.Sprintf("[%d,%d]", MinFPS, MaxFPS))
	}

	if r.Model != ModelSmall && r.Model != ModelBase {
		return errors.Newf("unknown model variant %q", r.Model).
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}

	if len(r.Classes) == 0 {
		return errors.Newf("select at least one class").
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}
	if _, err := NormalizeClasses(r.Classes); err != nil {
		return err
	}
	return nil
}

func rangeError(field string, value any, bounds string) error {
	return errors.New(fmt.Errorf("%w: %s %v not in %s", errors.ErrInvalidRange, field, value, bounds)).
		Component("detection").
		Category(errors.CategoryRange).
		Context("field", field).
		Context("value", value).
		Build()
}

// Encode builds the multipart body sent to the detection service and returns it
// with its content type. Fields follow the order the service expects: file,
// confidence, fps (video only), model, then one class field per selected class.
// Encode assumes Validate has passed.
func (r Request) Encode() ([]byte, string, error) {
	classes, err := NormalizeClasses(r.Classes)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreatePart(filePartHeader(r.Kind.FileField(), r.fileName(), r.File.Data))
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(r.File.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	fields := [][2]string{{fieldConfidence, strconv.FormatFloat(r.Confidence, 'f', -1, 64)}}
	if r.Kind == Video {
		fields = append(fields, [2]string{fieldFPS, strconv.Itoa(r.FPS)})
	}
	fields = append(fields, [2]string{fieldModel, string(r.Model)})
	for _, c := range classes {
		fields = append(fields, [2]string{fieldClass, c})
	}

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (r Request) fileName() string {
	if r.File.Name != "" {
		return r.File.Name
	}
	return string(r.Kind)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// filePartHeader mirrors multipart.Writer.CreateFormFile but declares the sniffed
// content type instead of application/octet-stream, as browsers do.
func filePartHeader(field, filename string, data []byte) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", http.DetectContentType(data))
	return h
}
