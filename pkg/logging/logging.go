// Package logging provides the process-wide structured logger. Every
// component pulls its logger from here so format and level stay
// consistent across the module.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[slog.Logger]

// Logger returns the shared logger, building it from the environment on
// first use:
//   - SWITCHBOARD_LOG_FORMAT: "json" (default) or "text"
//   - SWITCHBOARD_LOG_LEVEL: debug|info|warn|error
func Logger() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := newFromEnv()
	if defaultLogger.CompareAndSwap(nil, l) {
		return l
	}
	return defaultLogger.Load()
}

// SetLogger replaces the shared logger. Tests use it to capture output.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	defaultLogger.Store(l)
}

// WithComponent tags the shared logger with a component field.
func WithComponent(component string) *slog.Logger {
	return Logger().With("component", component)
}

func newFromEnv() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("SWITCHBOARD_LOG_LEVEL"))}

	var handler slog.Handler
	switch strings.ToLower(os.Getenv("SWITCHBOARD_LOG_FORMAT")) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", "switchboard")
}

func parseLevel(env string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(env)); err != nil {
		return slog.LevelInfo
	}
	return level
}
