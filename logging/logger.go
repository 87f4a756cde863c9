// Package logging provides the structured logger shared by the engine,
// the transports and the CLI.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with engine-specific field helpers.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs to w.
// A nil writer means stderr.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs to w.
// A nil writer means stderr.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// New builds a logger from a format ("text" or "json") and a level name.
func New(w io.Writer, format, level string) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(format) {
	case "", "text":
		return NewTextLogger(w, lvl), nil
	case "json":
		return NewJSONLogger(w, lvl), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// ParseLevel maps debug/info/warn/error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// OrNoop returns l, or a discarding logger when l is nil.
func OrNoop(l *Logger) *Logger {
	if l == nil {
		return NoopLogger()
	}
	return l
}

// WithComponent tags every record with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// WithRequestID adds a request_id field to the logger.
func (l *Logger) WithRequestID(id string) *Logger {
	return &Logger{Logger: l.Logger.With("request_id", id)}
}

// WithMode adds the missing-data mode field.
func (l *Logger) WithMode(mode fmt.Stringer) *Logger {
	return &Logger{Logger: l.Logger.With("mode", mode.String())}
}

// LogMatrix logs a finished (or failed) correlation matrix computation.
func (l *Logger) LogMatrix(ctx context.Context, columns, rows int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "correlation matrix failed",
			"columns", columns,
			"rows", rows,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "correlation matrix computed",
		"columns", columns,
		"rows", rows,
		"elapsed", elapsed,
	)
}

// LogRequest logs one served request.
func (l *Logger) LogRequest(ctx context.Context, transport string, bytesIn int, cached bool, err error) {
	if err != nil {
		l.WarnContext(ctx, "request failed",
			"transport", transport,
			"bytes_in", bytesIn,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "request served",
		"transport", transport,
		"bytes_in", bytesIn,
		"cached", cached,
	)
}
