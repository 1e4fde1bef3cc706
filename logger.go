package cachego

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with cachego-specific context.
// This provides structured logging with consistent field names.
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithNamespace adds a namespace field to the logger.
func (l *Logger) WithNamespace(namespace string) *Logger {
	return &Logger{
		Logger: l.Logger.With("namespace", namespace),
	}
}

// WithKey adds namespace and key fields to the logger.
func (l *Logger) WithKey(namespace, key string) *Logger {
	return &Logger{
		Logger: l.Logger.With("namespace", namespace, "key", key),
	}
}

// LogSet logs a write operation.
func (l *Logger) LogSet(ctx context.Context, namespace, key string, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "set failed",
			"namespace", namespace,
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "set completed",
			"namespace", namespace,
			"key", key,
			"size", size,
		)
	}
}

// LogGet logs a read operation.
func (l *Logger) LogGet(ctx context.Context, namespace, key string, hit bool) {
	l.DebugContext(ctx, "get completed",
		"namespace", namespace,
		"key", key,
		"hit", hit,
	)
}

// LogInvalidation logs an invalidation operation.
func (l *Logger) LogInvalidation(ctx context.Context, mode, namespace string, keys, removed int) {
	l.InfoContext(ctx, "invalidation applied",
		"mode", mode,
		"namespace", namespace,
		"keys", keys,
		"removed", removed,
	)
}

// LogEviction logs a memory-pressure eviction pass.
func (l *Logger) LogEviction(ctx context.Context, level string, evicted int) {
	l.InfoContext(ctx, "eviction pass completed",
		"pressure", level,
		"evicted", evicted,
	)
}

// LogFallback logs a fallback store operation failure. Fallback errors
// never fail the cache operation itself.
func (l *Logger) LogFallback(ctx context.Context, op, namespace, key string, err error) {
	l.WarnContext(ctx, "fallback store operation failed",
		"op", op,
		"namespace", namespace,
		"key", key,
		"error", err,
	)
}
