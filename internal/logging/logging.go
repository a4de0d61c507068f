// Package logging builds the process-wide slog.Logger from the -l flag
// common to every subcommand. Each record carries the same fields as the
// original tool's
// "%(asctime)s - %(levelname)s - %(filename)s:%(lineno)d - %(message)s"
// format (time, level, source file:line, message), rendered in slog's
// key=value text form rather than that line shape.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps the CLI's case-insensitive level name to a slog.Level,
// matching the Python tool's logging._nameToLevel table.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q", name)
	}
}

// New builds a logger writing to w at the given level, with source location
// attached to every record.
func New(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler)
}
