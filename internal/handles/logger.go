package handles

import "github.com/markdetect/markdetect-go/internal/logger"

// GetLogger returns the handles package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("handles")
}
