package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/markdetect/markdetect-go/internal/observability/metrics"
)

// NewHTTPMetrics records method, route pattern, status and latency of every
// request. The route pattern keeps label cardinality bounded.
func NewHTTPMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.RecordHTTPRequest(c.Request().Method, path, status, time.Since(start).Seconds())
			return err
		}
	}
}
