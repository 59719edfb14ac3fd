package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

const (
	// traceLevelValue is slog.Level for TRACE level (below Debug which is -4)
	traceLevelValue = slog.Level(-8)

	// floatPrecisionRatio rounds floats to 3 decimal places in log output
	floatPrecisionRatio = 1000.0
)

var (
	globalLogger   *CentralLogger
	globalLoggerMu sync.Mutex
)

// SetGlobal sets the global CentralLogger instance.
func SetGlobal(cl *CentralLogger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = cl
}

// Global returns the global CentralLogger instance, or a console-only fallback
// when SetGlobal has not been called.
func Global() *CentralLogger {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()

	if globalLogger == nil {
		globalLogger = &CentralLogger{
			config:       &LoggingConfig{DefaultLevel: DefaultLogLevel},
			timezone:     time.Local,
			moduleLevels: map[string]slog.Level{},
			baseHandler:  newTextHandler(os.Stdout, slog.LevelInfo, time.Local),
		}
	}
	return globalLogger
}

// loggerContextKey is a typed key for context values to avoid string collisions.
type loggerContextKey struct{ name string }

// TraceIDKey is the context key for trace IDs. Use WithTraceID() to set values.
var TraceIDKey = loggerContextKey{"trace_id"}

// WithTraceID returns a new context with the trace ID set
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceIDFromContext returns the trace ID stored in ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// CentralLogger manages module-aware logging with console and file routing
type CentralLogger struct {
	config       *LoggingConfig
	timezone     *time.Location
	baseHandler  slog.Handler
	file         *os.File
	moduleLevels map[string]slog.Level
	mu           sync.RWMutex
}

// NewCentralLogger creates a centralized logger from cfg
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	var tz *time.Location
	switch cfg.Timezone {
	case "", "Local":
		tz = time.Local
	default:
		var err error
		tz, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
	}

	cl := &CentralLogger{
		config:       cfg,
		timezone:     tz,
		moduleLevels: make(map[string]slog.Level, len(cfg.ModuleLevels)),
	}
	for module, levelStr := range cfg.ModuleLevels {
		cl.moduleLevels[module] = parseLogLevel(levelStr)
	}

	var handlers []slog.Handler
	if cfg.Console.Enabled {
		handlers = append(handlers, newTextHandler(os.Stdout, parseLogLevel(cfg.Console.Level), tz))
	}
	if cfg.File.Enabled {
		if err := ensureFileDirectory(cfg.File.Path); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cl.file = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: parseLogLevel(cfg.File.Level)}))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, newTextHandler(os.Stdout, parseLogLevel(cfg.DefaultLevel), tz))
	}

	if len(handlers) == 1 {
		cl.baseHandler = handlers[0]
	} else {
		cl.baseHandler = &fanoutHandler{handlers: handlers}
	}
	return cl, nil
}

// NewSlogLogger returns a root Logger writing text to w, for tests and tools.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if tz == nil {
		tz = time.UTC
	}
	lvl := parseSlogLevel(level)
	return &moduleLogger{
		logger: slog.New(newTextHandler(w, lvl, tz)),
		level:  lvl,
	}
}

// Module returns a logger scoped to a specific module
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	level, ok := cl.moduleLevels[name]
	if !ok {
		level = parseLogLevel(cl.config.DefaultLevel)
	}

	return &moduleLogger{
		module: name,
		logger: slog.New(cl.baseHandler),
		level:  level,
	}
}

// Flush syncs the log file to disk, if one is open.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.file == nil {
		return nil
	}
	return cl.file.Sync()
}

// Close flushes and closes the log file.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	err := errors.Join(cl.file.Sync(), cl.file.Close())
	cl.file = nil
	return err
}

// ensureFileDirectory creates the directory for a file path if it doesn't exist
func ensureFileDirectory(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir == "." || dir == filePath {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// parseLogLevel converts string level to slog.Level
func parseLogLevel(level string) slog.Level {
	return parseSlogLevel(LogLevel(level))
}

func parseSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelTrace:
		return traceLevelValue
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newTextHandler creates the console handler. Timestamps are dropped and the
// TRACE level gets its own label.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= traceLevelValue {
					return slog.String(slog.LevelKey, "TRACE")
				}
			}
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.Time(a.Key, t.In(tz))
			}
			return a
		},
	})
}

// moduleLogger implements Logger for a specific module
type moduleLogger struct {
	module string
	logger *slog.Logger
	level  slog.Level
	fields []Field
}

func (m *moduleLogger) Module(name string) Logger {
	module := name
	if m.module != "" {
		module = m.module + "." + name
	}
	return &moduleLogger{
		module: module,
		logger: m.logger,
		level:  m.level,
		fields: slices.Clone(m.fields),
	}
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.log(traceLevelValue, msg, fields...) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.log(slog.LevelDebug, msg, fields...) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.log(slog.LevelInfo, msg, fields...) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.log(slog.LevelWarn, msg, fields...) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.log(slog.LevelError, msg, fields...) }

func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	m.log(parseSlogLevel(level), msg, fields...)
}

func (m *moduleLogger) With(fields ...Field) Logger {
	return &moduleLogger{
		module: m.module,
		logger: m.logger,
		level:  m.level,
		fields: slices.Concat(m.fields, fields),
	}
}

func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return m
	}
	return m.With(String(traceIDKey, traceID))
}

func (m *moduleLogger) Flush() error {
	return nil
}

func (m *moduleLogger) log(level slog.Level, msg string, fields ...Field) {
	if m == nil || level < m.level {
		return
	}

	attrs := make([]slog.Attr, 0, 1+len(m.fields)+len(fields))
	if m.module != "" {
		attrs = append(attrs, slog.String(moduleKey, m.module))
	}
	for i := range m.fields {
		attrs = append(attrs, fieldToAttr(m.fields[i]))
	}
	for i := range fields {
		attrs = append(attrs, fieldToAttr(fields[i]))
	}

	m.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// fieldToAttr converts Field to slog.Attr
func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case float64:
		return slog.Float64(f.Key, math.Round(v*floatPrecisionRatio)/floatPrecisionRatio)
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case time.Duration:
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}

// fanoutHandler writes each record to several handlers
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler interface requires record by value
func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
