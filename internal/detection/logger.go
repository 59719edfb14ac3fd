package detection

import (
	"sync"

	"github.com/markdetect/markdetect-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the detection package logger scoped to the detection module.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("detection")
	})
	return serviceLogger
}
