package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "external-task-worker"

// NewLogger builds the worker's logger. LOG_LEVEL selects the level (default
// info); LOG_FORMAT=console switches from JSON to the console encoder.
func NewLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(os.Getenv("LOG_LEVEL"))
	config.InitialFields = map[string]interface{}{"service": serviceName}

	return config.Build()
}

// Named returns a child logger for a component, tolerating a nil parent.
func Named(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(component)
}

// parseLogLevel accepts any zap level name, case-insensitively. "warning"
// is an alias for warn; unknown values fall back to info.
func parseLogLevel(s string) zap.AtomicLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil || s == "" {
		level = zapcore.InfoLevel
	}
	return zap.NewAtomicLevelAt(level)
}
