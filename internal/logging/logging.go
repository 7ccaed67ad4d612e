// Package logging defines the structured logging contract used across the
// guardian tools. Library packages log through the Logger interface and
// default to a no-op implementation; the CLI entry points install a
// slog-backed logger writing to stderr.
package logging

import (
	"log/slog"
	"os"
)

// Logger provides structured logging with key-value pairs.
type Logger interface {
	// Debug logs debug-level messages with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs info-level messages with optional key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs warning-level messages with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs error-level messages with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}

// noopLogger discards everything. It is the default for library packages
// so tests stay quiet unless a caller opts in.
type noopLogger struct{}

func (noopLogger) Debug(msg string, keysAndValues ...any) {}
func (noopLogger) Info(msg string, keysAndValues ...any)  {}
func (noopLogger) Warn(msg string, keysAndValues ...any)  {}
func (noopLogger) Error(msg string, keysAndValues ...any) {}

// Nop returns a logger that discards all messages.
func Nop() Logger {
	return noopLogger{}
}

// slogLogger adapts *slog.Logger to the Logger interface.
type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Debug(msg string, keysAndValues ...any) { s.l.Debug(msg, keysAndValues...) }
func (s slogLogger) Info(msg string, keysAndValues ...any)  { s.l.Info(msg, keysAndValues...) }
func (s slogLogger) Warn(msg string, keysAndValues ...any)  { s.l.Warn(msg, keysAndValues...) }
func (s slogLogger) Error(msg string, keysAndValues ...any) { s.l.Error(msg, keysAndValues...) }

// NewStderr returns a text-format logger writing to stderr at the given
// minimum level. This is what the CLI entry points install.
func NewStderr(level slog.Level) Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slogLogger{l: slog.New(handler)}
}
