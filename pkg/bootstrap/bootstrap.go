// Package bootstrap builds process-wide dependencies shared by every entry
// point: the structured logger and the event publisher connection.
package bootstrap

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger: JSON on stdout at the given level.
// Source locations are attached only at debug level to keep production log
// lines compact. Unknown level names fall back to info.
func NewLogger(level string) *slog.Logger {
	logLevel := toLevel(level)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: logLevel == slog.LevelDebug,
		Level:     logLevel,
	})
	return slog.New(handler)
}

func toLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
