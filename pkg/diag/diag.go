// Package diag renders the diagnostic line format required of every
// launcher on failure: program name, host, pid, timestamp, message and
// source location. It is a thin wrapper over log/slog, matching the
// structured-logging idiom used throughout this codebase.
package diag

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide logger, attributed once with the
// fields every diagnostic line must carry. AddSource gives the source
// location; slog's text handler timestamps every record automatically.
func NewLogger(program, host string, pid int) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelInfo,
	})
	return slog.New(handler).With(
		slog.String("program", program),
		slog.String("host", host),
		slog.Int("pid", pid),
	)
}

// WithRank returns a derived logger carrying the launcher's rank, used
// once the tree position is known.
func WithRank(l *slog.Logger, rank int) *slog.Logger {
	return l.With(slog.Int("rank", rank))
}

// Fatal logs msg at error level with err and the given extra attrs, then
// exits the process with code. Config errors at root and every other
// error kind are whole-job fatal, so this is the single exit path for
// unrecoverable launcher failures.
func Fatal(l *slog.Logger, code int, msg string, err error, attrs ...any) {
	args := append([]any{"error", err}, attrs...)
	l.Error(msg, args...)
	os.Exit(code)
}
