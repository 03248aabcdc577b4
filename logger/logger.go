// Package logger provides the shared structured logger.
//
// It wraps log/slog with level control via the LOG_LEVEL environment
// variable and package-level convenience functions so call sites stay short.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Default is the global structured logger instance. It is safe for
// concurrent use and writes text records to stderr.
var Default *slog.Logger

func init() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	Default = slog.New(handler)
}

// SetLevel replaces the logger with one at the given level.
func SetLevel(level slog.Level) {
	Default = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Debug logs at debug level with key-value attributes.
func Debug(msg string, args ...any) { Default.Debug(msg, args...) }

// Info logs at info level with key-value attributes.
func Info(msg string, args ...any) { Default.Info(msg, args...) }

// Warn logs at warn level with key-value attributes.
func Warn(msg string, args ...any) { Default.Warn(msg, args...) }

// Error logs at error level with key-value attributes.
func Error(msg string, args ...any) { Default.Error(msg, args...) }

// With returns a logger carrying the given attributes on every record.
func With(args ...any) *slog.Logger { return Default.With(args...) }
