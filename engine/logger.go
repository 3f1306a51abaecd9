package engine

import (
	"sync"

	"go.uber.org/zap"
)

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop()
)

// Logger returns the engine's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the engine's logger. Passing nil restores the no-op
// logger.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}
