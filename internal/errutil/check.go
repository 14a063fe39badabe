package errutil

import (
	"log/slog"
)

// LogMsg logs the error with a custom message if it is not nil.
// A nil logger falls back to slog.Default().
func LogMsg(log *slog.Logger, err error, msg string, args ...any) {
	if err == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	allArgs := append([]any{"error", err}, args...)
	log.Warn(msg, allArgs...)
}

// ReportError logs an unexpected error.
// It funnels errors through a centralized reporting mechanism.
func ReportError(log *slog.Logger, err error, msg string, args ...any) {
	if err == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	allArgs := append([]any{"error", err}, args...)
	log.Error(msg, allArgs...)
}
