// Package api provides the HTTP server for markdetect: detection submission,
// flow status, blob serving and metrics.
package api

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/markdetect/markdetect-go/internal/conf"
	"github.com/markdetect/markdetect-go/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 5 * time.Minute // uploads can be large
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultMaxUpload is the largest accepted request body.
	DefaultMaxUpload int64 = 512 << 20

	// uploadHeadroom covers multipart framing and form fields on top of the file.
	uploadHeadroom int64 = 1 << 20
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string // address to listen on, e.g. ":8080"

	// Timeouts
	ReadTimeout     time.Duration // maximum duration for reading a request
	WriteTimeout    time.Duration // maximum duration for writing a response, covers the upstream call
	IdleTimeout     time.Duration // maximum time to wait for the next request
	ShutdownTimeout time.Duration // maximum time to wait for graceful shutdown

	// Limits
	MaxUpload int64   // largest accepted upload in bytes
	RateLimit float64 // detect requests per second per client, 0 disables
	RateBurst int     // burst for the rate limiter

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    15 * time.Minute,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		MaxUpload:       DefaultMaxUpload,
		RateLimit:       1,
		RateBurst:       5,
	}
}

// ConfigFromSettings creates a Config from the application settings. The write
// timeout is derived from the service timeout so a slow detection can finish.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()

	cfg.Listen = settings.WebServer.Listen
	cfg.MaxUpload = settings.WebServer.MaxUpload
	cfg.RateLimit = settings.WebServer.RateLimit
	cfg.RateBurst = settings.WebServer.RateBurst
	cfg.Debug = settings.Debug

	if settings.Service.Timeout > 0 {
		cfg.WriteTimeout = cfg.ReadTimeout + settings.Service.Timeout
	}

	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}

	if c.MaxUpload <= 0 {
		return fmt.Errorf("max upload must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	return nil
}

// BodyLimit returns the body limit in the format of echo's BodyLimit middleware.
func (c *Config) BodyLimit() string {
	return strconv.FormatInt((c.MaxUpload+uploadHeadroom)/1024, 10) + "K"
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: address=%s, max_upload=%d, rate_limit=%g, debug=%v",
		c.Listen, c.MaxUpload, c.RateLimit, c.Debug)
}
