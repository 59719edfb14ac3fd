// Package logger provides a structured, module-aware logging system built on Go's standard log/slog.
//
// Components never create their own slog handlers. They receive a Logger scoped to
// their module from the CentralLogger built at startup:
//
//	central, err := logger.NewCentralLogger(&settings.Logging)
//	if err != nil {
//	    return err
//	}
//	defer central.Close()
//
//	log := central.Module("detection")
//	log.Info("submission accepted",
//	    logger.String("kind", "video"),
//	    logger.Int("classes", 10))
//
// Console output uses a human-readable text format, file output is JSON for machine
// parsing. Tests inject NewSlogLogger(io.Discard, ...) or a buffer.
package logger

import (
	"context"
	"time"
)

// LogLevel represents log severity levels
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Reserved attribute keys
const (
	moduleKey  = "module"
	traceIDKey = "trace_id"
	errorKey   = "error"
)

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// Logger is the centralized logging interface for dependency injection
type Logger interface {
	// Module returns a logger scoped to a sub-module
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every entry
	With(fields ...Field) Logger

	// WithContext returns a logger carrying the trace ID found in ctx, if any
	WithContext(ctx context.Context) Logger

	Log(level LogLevel, msg string, fields ...Field)

	// Flush ensures all buffered logs are written
	Flush() error
}

// String creates a string field for structured logging.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field for structured logging.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates a 64-bit integer field, typically for byte sizes.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float field. Values are rounded to 3 decimals on output.
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Error creates an error field. The key is always "error"; a nil error logs as null.
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration creates a duration field, rendered as a human-readable string.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Time creates a time field.
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field with an arbitrary value.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}
