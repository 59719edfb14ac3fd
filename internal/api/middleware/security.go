package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SecurityConfig holds configuration for security middleware.
type SecurityConfig struct {
	// CORS settings
	AllowedOrigins []string

	// Content Security Policy
	ContentSecurityPolicy string
}

// DefaultSecurityConfig returns a SecurityConfig that lets any origin read the API.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		AllowedOrigins: []string{"*"},
	}
}

// NewCORS creates a CORS middleware with the given configuration. Content-Disposition
// is exposed so browsers can read download filenames.
func NewCORS(config SecurityConfig) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: config.AllowedOrigins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			"X-Requested-With",
		},
		ExposeHeaders: []string{
			echo.HeaderContentDisposition,
		},
	})
}

// NewSecureHeaders creates a middleware that sets security-related HTTP headers.
func NewSecureHeaders(config SecurityConfig) echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		ContentSecurityPolicy: config.ContentSecurityPolicy,
	})
}

// NewBodyLimit creates a middleware that limits the request body size.
func NewBodyLimit(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}
