// Package logging provides the process-wide structured logger.
package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// Init initializes the global logger with the given level and encoding.
// Level is one of: debug, info, warn, error. Encoding is json or console.
func Init(level, encoding string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "", "info":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn", "warning":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	if strings.ToLower(strings.TrimSpace(encoding)) == "console" {
		zcfg.Encoding = "console"
	}

	l, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()

	zap.RedirectStdLog(l)
	return l, nil
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...interface{}) { get().Infof(format, args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...interface{}) { get().Warnf(format, args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }
