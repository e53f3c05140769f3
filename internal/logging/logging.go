// Package logging builds the process zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/cardcheck/internal/config"
)

// New returns a production logger, or a development logger when
// cfg.Development is set, at cfg.Level. Output goes to stderr so that
// reports written to stdout stay machine-readable.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		zc.Level = level
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger, nil
}
