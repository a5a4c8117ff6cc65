package logger

import (
	"context"
	"sync"
)

// LoggerContext accumulates attributes across the lifetime of an operation
// so later log calls include everything learned along the way. It is safe
// for concurrent use.
type LoggerContext struct {
	mu     sync.Mutex
	logger *Logger
}

// NewLoggerContext wraps the provided logger in a LoggerContext.
func NewLoggerContext(logger *Logger) *LoggerContext {
	return &LoggerContext{logger: logger}
}

// Add attaches additional key/value attributes to all subsequent log calls.
func (lc *LoggerContext) Add(args ...any) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.logger = lc.logger.With(args...)
}

// Debug logs at LevelDebug with the accumulated attributes.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.current().Debugc(ctx, 4, msg, args...)
}

// Info logs at LevelInfo with the accumulated attributes.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.current().Infoc(ctx, 4, msg, args...)
}

// Warn logs at LevelWarn with the accumulated attributes.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.current().write(ctx, LevelWarn, 4, msg, args...)
}

// Error logs at LevelError with the accumulated attributes.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.current().write(ctx, LevelError, 4, msg, args...)
}

func (lc *LoggerContext) current() *Logger {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.logger
}
