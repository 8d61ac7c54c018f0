package telemetry

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a structured logger configured for the given environment.
// mode should be "development" or "production"; level is a zap level name
// ("debug", "info", ...) and defaults to the mode's default when empty.
func NewLogger(mode, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch mode {
	case "development", "dev":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production", "prod":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("telemetry: unknown logger mode %q (want 'development' or 'production')", mode)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}

// NewNopLogger returns a no-op logger (useful for tests).
func NewNopLogger() *zap.Logger {
	return zap.NewNop()
}
