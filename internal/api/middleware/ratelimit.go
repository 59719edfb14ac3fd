package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/markdetect/markdetect-go/internal/observability/metrics"
)

// RateLimitConfig configures NewRateLimiter.
type RateLimitConfig struct {
	Rate    float64 // requests per second per client
	Burst   int
	Window  time.Duration // how long an idle client's limiter is kept
	Metrics *metrics.HTTPMetrics
}

// NewRateLimiter limits requests per client IP with a token bucket. Denied
// requests get 429 and are counted per route.
func NewRateLimiter(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = 3 * time.Minute
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.Rate),
				Burst:     cfg.Burst,
				ExpiresIn: cfg.Window,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, map[string]string{
				"error": "Unable to identify client for rate limiting",
			})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			if cfg.Metrics != nil {
				cfg.Metrics.RecordRateLimited(ctx.Path())
			}
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many detection requests, please wait before trying again",
			})
		},
	})
}
