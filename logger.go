package vecshard

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with the events a Server reports, so every
// backend sees the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// Component returns the underlying slog.Logger tagged with a component
// field, for handing to subpackages.
func (l *Logger) Component(name string) *slog.Logger {
	return l.With("component", name)
}

// LogOpen logs opening an index root.
func (l *Logger) LogOpen(ctx context.Context, root string, shards, dimension int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"root", root,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index root opened",
			"root", root,
			"shards", shards,
			"dimension", dimension,
		)
	}
}

// LogSearch logs a batch search.
func (l *Logger) LogSearch(ctx context.Context, queries, k, nprobe int, strategy string, latency time.Duration, failedShards int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "search failed",
			"queries", queries,
			"k", k,
			"nprobe", nprobe,
			"strategy", strategy,
			"error", err,
		)
	case failedShards > 0:
		l.WarnContext(ctx, "search completed with failed shards",
			"queries", queries,
			"k", k,
			"strategy", strategy,
			"failed", failedShards,
			"latency", latency,
		)
	default:
		l.DebugContext(ctx, "search completed",
			"queries", queries,
			"k", k,
			"nprobe", nprobe,
			"strategy", strategy,
			"latency", latency,
		)
	}
}

// LogClose logs shutting a server down.
func (l *Logger) LogClose(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "close failed", "error", err)
	} else {
		l.InfoContext(ctx, "server closed")
	}
}
