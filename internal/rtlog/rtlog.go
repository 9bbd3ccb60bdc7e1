// Package rtlog provides the runtime's own diagnostic logging — distinct
// from the FlowEvent observability stream. It wraps log/slog behind a small
// seam so callers can swap the handler (text or JSON, level, output) without
// the rest of the runtime caring which one is installed.
//
// See DESIGN.md for why this ambient concern stays on log/slog rather than
// a third-party logging library.
package rtlog

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// SetLogger replaces the package-wide logger used for runtime diagnostics.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	logger.Store(l)
}

// Logger returns the current runtime logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// Warn logs a warning-level diagnostic, e.g. a hook or middleware failure
// that the runtime swallowed rather than propagated to the caller.
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs an error-level diagnostic.
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// Debug logs a debug-level diagnostic, used for per-hop scheduler tracing.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}
