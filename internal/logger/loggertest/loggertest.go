// Package loggertest provides loggers whose output can be inspected in tests.
package loggertest

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conorfennell/knolplan/internal/logger"
)

// New returns a logger that records entries at debug level and above.
func New() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &logger.Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}
