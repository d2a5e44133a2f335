package embedspace

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with embedspace-specific context.
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

// LogAdd logs an add operation.
func (l *Logger) LogAdd(ctx context.Context, namespace string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed",
			"namespace", namespace,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add completed",
			"namespace", namespace,
			"count", count,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, namespace string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"namespace", namespace,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"namespace", namespace,
			"count", count,
		)
	}
}

// LogReset logs a namespace reset.
func (l *Logger) LogReset(ctx context.Context, namespace string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "reset failed",
			"namespace", namespace,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "reset completed",
			"namespace", namespace,
		)
	}
}

// LogBuild logs an index build.
func (l *Logger) LogBuild(ctx context.Context, namespace string, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index build failed",
			"namespace", namespace,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index build completed",
			"namespace", namespace,
			"duration", duration,
		)
	}
}

// LogQuery logs a query operation.
func (l *Logger) LogQuery(ctx context.Context, namespace string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"namespace", namespace,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"namespace", namespace,
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogSample logs a sampling operation.
func (l *Logger) LogSample(ctx context.Context, namespace string, requested, selected int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "sampling failed",
			"namespace", namespace,
			"requested", requested,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "sampling completed",
			"namespace", namespace,
			"requested", requested,
			"selected", selected,
		)
	}
}

// LogAnalysisSubmitted logs that an analysis job was queued.
func (l *Logger) LogAnalysisSubmitted(ctx context.Context, namespace, jobID string) {
	l.DebugContext(ctx, "analysis submitted",
		"namespace", namespace,
		"job_id", jobID,
	)
}

// LogAnalysis logs a completed analysis run.
func (l *Logger) LogAnalysis(ctx context.Context, namespace string, generation uint64, scored, singular int) {
	if singular > 0 {
		l.WarnContext(ctx, "analysis completed with singular classes",
			"namespace", namespace,
			"generation", generation,
			"scored", scored,
			"singular_classes", singular,
		)
	} else {
		l.InfoContext(ctx, "analysis completed",
			"namespace", namespace,
			"generation", generation,
			"scored", scored,
		)
	}
}
