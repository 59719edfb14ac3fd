// Package conf provides configuration management for markdetect.
package conf

import "github.com/markdetect/markdetect-go/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// The logger is fetched from the global logger each time to ensure it uses
// the current centralized logger (which may be set after package init).
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
