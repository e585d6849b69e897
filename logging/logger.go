// Package logging provides structured logging on log/slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format selects the line encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options configures New. The zero value logs JSON at info level to stdout.
type Options struct {
	Level  string
	Format Format
	Writer io.Writer
}

type contextKey struct{}

// Logger wraps slog.Logger and remembers its level.
type Logger struct {
	*slog.Logger
	level slog.Level
}

// New creates a logger. Debug loggers add the source position. Durations
// are written as fractional milliseconds under the same key.
func New(opts Options) *Logger {
	level := parseLevel(opts.Level)
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: durationsAsMillis,
	}

	var handler slog.Handler
	if ParseFormat(string(opts.Format)) == FormatText {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	return &Logger{Logger: slog.New(handler), level: level}
}

// NewLogger creates a JSON logger writing to stdout.
func NewLogger(level string) *Logger {
	return New(Options{Level: level})
}

// NewLoggerWithWriter creates a JSON logger writing to w.
func NewLoggerWithWriter(level string, w io.Writer) *Logger {
	return New(Options{Level: level, Writer: w})
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Options{Level: "error", Writer: io.Discard})
}

// ParseFormat maps a LOG_FORMAT value; anything but "text" is JSON.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

func durationsAsMillis(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindDuration {
		return slog.Float64(a.Key, float64(a.Value.Duration())/float64(time.Millisecond))
	}
	return a
}

// Level returns the minimum level the logger writes.
func (l *Logger) Level() slog.Level {
	return l.level
}

// WithContext returns a new context with the logger.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext retrieves the logger from context, or an info logger on
// stdout when there is none.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return l
	}
	return NewLogger("info")
}

// With returns a new logger with additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		level:  l.level,
	}
}

// WithService returns a logger with service name.
func (l *Logger) WithService(name string) *Logger {
	return l.With("service", name)
}

// WithRequestID returns a logger with request ID.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With("request_id", requestID)
}

// WithRunID returns a logger tagged with an aggregation run ID.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.With("run_id", runID)
}

// WithLevels tags a logger with the grid level range it works on.
func (l *Logger) WithLevels(levelMin, levelMax int) *Logger {
	return l.With(slog.Group("grid", "level_min", levelMin, "level_max", levelMax))
}

// WithError returns a logger with error. A nil error leaves l unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
