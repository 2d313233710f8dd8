// Package logging provides structured logging using slog.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logging configuration.
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"
}

// Setup initializes the global slog logger based on configuration.
func Setup(cfg Config) {
	slog.SetDefault(New(os.Stdout, cfg))
}

// New builds a logger writing to w.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
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

// Component returns a logger with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}

// Discard returns a logger that drops everything; used by tests and as a nil default.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
