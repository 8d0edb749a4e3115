// Package logging builds the zap logger every component of the sandbox
// process shares, configured from the level named in costconfig.Config.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style zap logger (JSON output, ISO8601 timestamps)
// at the given level name ("debug", "info", "warn", "error"; empty defaults
// to "info").
func New(level string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}

// ExecField is a zap field identifying which execution a log line belongs
// to, so every log about a given exec_id can be grepped out of a
// multiplexed process's output.
func ExecField(execID fmt.Stringer) zap.Field {
	return zap.Stringer("exec_id", execID)
}
