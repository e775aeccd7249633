package logging

import (
	"log/slog"
	"os"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format at Info level, development uses
// human-readable text at Debug level.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// WithComponent tags a logger with the component it belongs to. Each
// component (conn, registry, stores) gets its own tagged logger at
// bootstrap rather than sharing a global.
func WithComponent(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("component", name))
}
