// Package logging builds the service's zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger profiled by environment: console output for
// development, JSON otherwise. An explicit level wins over the environment
// default.
func New(environment, level string) (*zap.Logger, error) {
	cfg, err := profile(environment, level)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func profile(environment, level string) (zap.Config, error) {
	var cfg zap.Config
	switch strings.ToLower(environment) {
	case "development", "local", "test":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	if strings.TrimSpace(level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(level); err != nil {
			return zap.Config{}, fmt.Errorf("invalid level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	return cfg, nil
}
