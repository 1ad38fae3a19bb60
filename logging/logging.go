// Package logging builds the slog.Logger used across jobq's service
// binaries and adapters, fronted by tint for console output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Config controls handler selection. It mirrors the teacher's
// shared/logger.Config field-for-field.
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, console
	Output       string // stdout, stderr
	EnableSource bool
	TimeFormat   string
}

// New builds a *slog.Logger from Config. Format "console" (the
// default) uses tint; "json" uses the stdlib JSON handler so log
// aggregators can parse it.
func New(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)

	var writer io.Writer
	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	default:
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.EnableSource}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		timeFormat := cfg.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}
		handler = tint.NewHandler(writer, &tint.Options{
			Level:      level,
			AddSource:  cfg.EnableSource,
			TimeFormat: timeFormat,
		})
	}

	return slog.New(handler)
}

// Default returns a console-format, info-level logger writing to
// stdout, for callers that have not loaded a Config yet.
func Default() *slog.Logger {
	return New(Config{Level: "info", Format: "console"})
}

func parseLevel(level string) slog.Level {
	switch level {
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
