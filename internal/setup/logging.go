package setup

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joinguard/joinguard/internal/setup/config"
)

// buildLogger constructs the application logger. Every line carries the
// engine instance ID so logs from horizontally-scaled replicas can be told
// apart.
func buildLogger(debug *config.Debug) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if debug.LogLevel != "" {
		parsed, err := zapcore.ParseLevel(debug.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", debug.LogLevel, err)
		}
		level = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger.With(zap.String("instanceID", uuid.NewString())), nil
}
