// Package logging configures the process-wide structured logger and a
// run-id correlation helper threaded through the scheduler.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Setup configures the default slog logger from level/format strings
// (empty values fall back to info/text), fed from the root command's
// --log-level/--log-format flags.
func Setup(level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown log level, using info", slog.String("value", level))
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

type runIDKey struct{}

// WithRunID embeds a run id (generated per `backup`/`update` invocation in
// cmd/backup.go) in ctx for log correlation across that run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run id embedded by WithRunID, or "".
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the default logger with the run id attached, if any.
func FromContext(ctx context.Context) *slog.Logger {
	if id := RunID(ctx); id != "" {
		return slog.Default().With(slog.String("run_id", id))
	}
	return slog.Default()
}
