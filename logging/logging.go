// Package logging constructs the structured logger used throughout the
// daemon. Every ambient component (scheduler, worker fabric, connection
// manager) takes a *zap.Logger rather than reaching for the log
// singleton, so tests can pass zap.NewNop() and production can pass a
// configured logger without a global to stub out.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style JSON logger at the given level name
// ("debug", "info", "warn", "error"; unrecognized names fall back to
// info). Pass "" for the default info level.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and for
// components constructed before a real logger is available.
func Nop() *zap.Logger {
	return zap.NewNop()
}
