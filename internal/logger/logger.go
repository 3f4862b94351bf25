// Package logger sets up the process-wide slog logger. Level and format come
// from configuration, falling back to LOG_LEVEL and LOG_FORMAT.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[slog.Logger]

// Setup builds the default logger writing to stderr. An empty level or
// format is read from the environment.
func Setup(level, format string) *slog.Logger {
	l := newLogger(level, format)
	defaultLogger.Store(l)
	slog.SetDefault(l)
	return l
}

func newLogger(level, format string) *slog.Logger {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// ParseLevel maps a level name to slog, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// L returns the default logger, initializing it from the environment if
// Setup was never called. Concurrent first calls agree on one logger.
func L() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := newLogger("", "")
	if defaultLogger.CompareAndSwap(nil, l) {
		slog.SetDefault(l)
		return l
	}
	return defaultLogger.Load()
}
