// Package logging is the structured logger shared by every hudp package. It
// wraps go.uber.org/zap the way the teacher calls it at its own zap call
// sites (e.g. pkg/custom/reliable/client_handler.go's logging.Error calls):
// package-level Debug/Info/Warn/Error functions forwarding to one
// process-wide logger, so call sites never construct or thread a
// *zap.Logger themselves.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = newLogger()

func newLogger() *zap.Logger {
	level := zapcore.InfoLevel
	if lvl, err := zapcore.ParseLevel(os.Getenv("HUDP_LOG_LEVEL")); err == nil {
		level = lvl
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"

	l, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than panicking at package init.
		return zap.NewNop()
	}
	return l
}

// Debug logs at debug level with structured fields.
func Debug(msg string, fields ...zap.Field) { logger.Debug(msg, fields...) }

// Info logs at info level with structured fields.
func Info(msg string, fields ...zap.Field) { logger.Info(msg, fields...) }

// Warn logs at warn level with structured fields.
func Warn(msg string, fields ...zap.Field) { logger.Warn(msg, fields...) }

// Error logs at error level with structured fields.
func Error(msg string, fields ...zap.Field) { logger.Error(msg, fields...) }

// Sync flushes any buffered log entries. Callers should invoke it from
// Endpoint.Stop so nothing is lost on shutdown.
func Sync() {
	_ = logger.Sync()
}
