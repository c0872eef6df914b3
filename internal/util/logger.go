package util

import (
	"io"
	"log/slog"
	"os"
)

type Logger = *slog.Logger

// NewLogger returns the default text logger used by the CLI and engine.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NopLogger discards all records. Tests and components constructed without
// an explicit logger use it as a fallback.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
