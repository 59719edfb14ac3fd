// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"

	"github.com/markdetect/markdetect-go/internal/privacy"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
	hub     *sentry.Hub
}

// NewSentryReporter creates a new Sentry telemetry reporter using the current hub
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{
		enabled: enabled,
		hub:     sentry.CurrentHub(),
	}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with URL scrubbing
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := privacy.ScrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))

	sr.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			if strValue, ok := value.(string); ok {
				value = privacy.ScrubMessage(strValue)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{
			Type:  string(ee.Category),
			Value: message,
		}}
		sr.hub.CaptureEvent(event)
	})

	ee.MarkReported()
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryHTTP:
		return sentry.LevelWarning // Often transient
	case CategoryInput, CategoryRange, CategoryValidation, CategoryState:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	reporterMu              sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter. Passing nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return globalTelemetryReporter
}

// reportToTelemetry reports an error to the configured telemetry system.
// User-caused errors are never reported.
func reportToTelemetry(ee *EnhancedError) {
	reporter := GetTelemetryReporter()
	if reporter == nil || !reporter.IsEnabled() {
		return
	}
	if IsUserError(ee) || Is(ee, ErrBusy) {
		return
	}
	reporter.ReportError(ee)
}
