package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// parseLevel maps LOG_LEVEL to a slog level. Unknown values fall back to info.
func parseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
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

// NewLogger builds the process logger on stdout.
//
//   - LOG_LEVEL: debug, info (default), warn, error
//   - LOG_FORMAT: json (default) or text for local runs
func NewLogger() *slog.Logger {
	return newLogger(os.Stdout, os.Getenv("LOG_FORMAT"), parseLevel(os.Getenv("LOG_LEVEL")))
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return newJSONLogger(w, level)
}

// newJSONLogger adds source locations at info and warn. Debug output is
// verbose enough without them.
func newJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelWarn && level > slog.LevelDebug,
	}))
}

// NewRunID returns an identifier for one recompute epoch or crawl cycle.
func NewRunID() string {
	return uuid.NewString()
}

// WithEpoch tags every line with the recompute epoch and its run ID.
func WithEpoch(logger *slog.Logger, epoch uint64, runID string) *slog.Logger {
	return logger.With(slog.Uint64("epoch", epoch), slog.String("run_id", runID))
}

type contextKey struct{}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}
