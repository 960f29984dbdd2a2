package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects the log level and encoder
type Config struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// NewZapLog builds the process logger from cfg
func NewZapLog(cfg Config) (*zap.Logger, error) {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level %q: %w", level, err)
	}

	zapcfg := zap.NewProductionConfig()
	if cfg.Development {
		zapcfg = zap.NewDevelopmentConfig()
	}
	zapcfg.Level = lvl

	zl, err := zapcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zl, nil
}
