package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/markdetect/markdetect-go/internal/detection"
	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/handles"
	"github.com/markdetect/markdetect-go/internal/logger"
)

// Multipart field names shared with the detection service.
const (
	fieldConfidence = "confidence_model"
	fieldFPS        = "fps"
	fieldModel      = "model_selector"
	fieldClass      = "clase_interes"
)

// HandleView is a handle descriptor with the URLs it is served under.
type HandleView struct {
	handles.Descriptor
	URL         string `json:"url"`
	DownloadURL string `json:"downloadUrl"`
}

// StatusResponse is the JSON view of a detection flow.
type StatusResponse struct {
	detection.Snapshot
	Handles []HandleView `json:"handles"`
}

// ClassesResponse lists the class catalog and the submission defaults.
type ClassesResponse struct {
	Classes  []string          `json:"classes"`
	Models   []string          `json:"models"`
	Defaults DetectionDefaults `json:"defaults"`
	FPSRange [2]int            `json:"fpsRange"`
}

// DetectionDefaults are the values used for omitted form fields.
type DetectionDefaults struct {
	Confidence float64  `json:"confidence"`
	FPS        int      `json:"fps"`
	Model      string   `json:"model"`
	Classes    []string `json:"classes"`
}

func (s *Server) defaults() DetectionDefaults {
	d := s.settings.Detection
	return DetectionDefaults{
		Confidence: d.Confidence,
		FPS:        d.FPS,
		Model:      d.Model,
		Classes:    slices.Clone(d.Classes),
	}
}

// getClasses handles GET /api/v1/classes.
func (s *Server) getClasses(c echo.Context) error {
	return c.JSON(http.StatusOK, ClassesResponse{
		Classes:  detection.Classes(),
		Models:   []string{string(detection.ModelSmall), string(detection.ModelBase)},
		Defaults: s.defaults(),
		FPSRange: [2]int{detection.MinFPS, detection.MaxFPS},
	})
}

// submitDetection handles POST /api/v1/detect/:kind. Omitted parameters fall
// back to the configured defaults; a missing file is reported by the
// orchestrator as MissingInput.
func (s *Server) submitDetection(c echo.Context) error {
	kind, err := detection.ParseMediaKind(c.Param("kind"))
	if err != nil {
		return s.handleError(c, err)
	}

	req, err := s.requestFromForm(c, kind)
	if err != nil {
		return s.handleError(c, err)
	}

	// A client that goes away does not abort the upstream call; the transport
	// timeout still bounds it.
	ctx := context.WithoutCancel(c.Request().Context())
	if _, err := s.orchestrator.Submit(ctx, req); err != nil {
		return s.handleError(c, err)
	}
	return s.writeStatus(c, kind)
}

// requestFromForm builds a detection request from the multipart form.
func (s *Server) requestFromForm(c echo.Context, kind detection.MediaKind) (detection.Request, error) {
	d := s.defaults()
	req := detection.NewRequest(kind)
	req.Confidence = d.Confidence
	req.FPS = d.FPS
	req.Model = detection.ModelVariant(d.Model)
	req.Classes = d.Classes

	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return req, nil
		}
		return req, errors.New(fmt.Errorf("malformed multipart form: %w", err)).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}

	if v := formValue(form, fieldConfidence); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, invalidField(fieldConfidence, v)
		}
		req.Confidence = f
	}
	if v := formValue(form, fieldFPS); v != "" && kind == detection.Video {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, invalidField(fieldFPS, v)
		}
		req.FPS = n
	}
	if v := formValue(form, fieldModel); v != "" {
		req.Model = detection.ModelVariant(strings.ToLower(v))
	}
	if classes := form.Value[fieldClass]; len(classes) > 0 {
		normalized, err := detection.NormalizeClasses(classes)
		if err != nil {
			return req, err
		}
		req.Classes = normalized
	}

	file, err := readUpload(form, kind.FileField(), s.config.MaxUpload)
	if err != nil {
		return req, err
	}
	req.File = file
	return req, nil
}

func formValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func invalidField(field, value string) error {
	return errors.Newf("%s must be a number, got %q", field, value).
		Component("api").
		Category(errors.CategoryValidation).
		Context("field", field).
		Build()
}

// readUpload returns the uploaded file of field, or nil when there is none.
func readUpload(form *multipart.Form, field string, limit int64) (*detection.File, error) {
	fhs := form.File[field]
	if len(fhs) == 0 {
		return nil, nil
	}
	fh := fhs[0]
	if fh.Size > limit {
		return nil, errors.Newf("upload of %d bytes exceeds the %d byte limit", fh.Size, limit).
			Component("api").
			Category(errors.CategoryValidation).
			Context("size", fh.Size).
			Build()
	}

	f, err := fh.Open()
	if err != nil {
		return nil, errors.New(fmt.Errorf("open upload: %w", err)).
			Component("api").
			Category(errors.CategoryFileIO).
			Build()
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.New(fmt.Errorf("read upload: %w", err)).
			Component("api").
			Category(errors.CategoryFileIO).
			Build()
	}
	return &detection.File{Name: fh.Filename, Data: data}, nil
}

// getStatus handles GET /api/v1/status/:kind.
func (s *Server) getStatus(c echo.Context) error {
	kind, err := detection.ParseMediaKind(c.Param("kind"))
	if err != nil {
		return s.handleError(c, err)
	}
	return s.writeStatus(c, kind)
}

// resetStatus handles DELETE /api/v1/status/:kind. It revokes the flow's
// handles and returns it to idle.
func (s *Server) resetStatus(c echo.Context) error {
	kind, err := detection.ParseMediaKind(c.Param("kind"))
	if err != nil {
		return s.handleError(c, err)
	}
	if err := s.orchestrator.Reset(kind); err != nil {
		return s.handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) writeStatus(c echo.Context, kind detection.MediaKind) error {
	snap, err := s.orchestrator.Snapshot(kind)
	if err != nil {
		return s.handleError(c, err)
	}

	resp := StatusResponse{Snapshot: snap, Handles: make([]HandleView, 0, len(snap.Handles))}
	for _, d := range snap.Handles {
		url := APIPrefix + "/blobs/" + d.ID
		resp.Handles = append(resp.Handles, HandleView{
			Descriptor:  d,
			URL:         url,
			DownloadURL: url + "?download=1",
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// getBlob handles GET /api/v1/blobs/:id. Revoked and unknown handles are 404.
// Range requests are supported so video players can seek.
func (s *Server) getBlob(c echo.Context) error {
	desc, rd, err := s.handles.Open(c.Param("id"))
	if err != nil {
		return s.handleError(c, err)
	}

	disposition := "inline"
	if download, _ := strconv.ParseBool(c.QueryParam("download")); download {
		disposition = "attachment"
	}
	params := map[string]string{}
	if desc.Filename != "" {
		params["filename"] = desc.Filename
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, desc.MediaType)
	h.Set(echo.HeaderContentDisposition, mime.FormatMediaType(disposition, params))
	h.Set("Cache-Control", "no-store")

	s.log.Debug("serving blob",
		logger.String("handle", desc.ID),
		logger.String("category", string(desc.Category)),
		logger.String("disposition", disposition),
		logger.Int("size", desc.Size))

	http.ServeContent(c.Response(), c.Request(), desc.Filename, desc.CreatedAt.Truncate(time.Second), rd)
	return nil
}
