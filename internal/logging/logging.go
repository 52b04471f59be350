// Package logging installs the process-wide slog handler for ostiary.
// The serve daemon and every CLI command log through slog.Default, so
// one Setup call at startup covers the whole process.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text handler on stderr at the given level.
func Setup(level string) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a level string from config or flags to a slog.Level.
// Empty or unrecognized values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
