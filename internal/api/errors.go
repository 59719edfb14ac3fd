package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/logger"
)

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}

	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID returns a short random identifier for log correlation.
func generateCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// statusForError maps the error taxonomy to HTTP status codes.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.IsUserError(err):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, errors.ErrHandleNotFound), errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrTransport),
		errors.Is(err, errors.ErrCorruptArchive),
		errors.Is(err, errors.ErrEntryTooLarge),
		errors.Is(err, errors.ErrMissingExpectedEntry):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleError logs err and writes it as an ErrorResponse. The message is the
// user-facing text of the error taxonomy.
func (s *Server) handleError(c echo.Context, err error) error {
	code := statusForError(err)
	resp := NewErrorResponse(err, errors.UserMessage(err), code)

	log := s.log.WithContext(c.Request().Context())
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", c.Path()),
		logger.String("ip", c.RealIP()),
		logger.Int("status", code),
		logger.Error(err),
	}
	if code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
	} else {
		log.Warn("API request failed", fields...)
	}

	return c.JSON(code, resp)
}
