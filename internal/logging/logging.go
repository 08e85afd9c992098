// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures a global slog logger: JSON output when jsonLog is true,
// human-readable text otherwise, filtered to level (one of "debug", "info",
// "warn", "error"; anything else defaults to "info").
func Init(service string, jsonLog bool, level string) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: false, Level: parseLevel(level)}
	var handler slog.Handler
	if jsonLog {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", jsonLog, "level", level)
	return logger
}

func parseLevel(level string) slog.Leveler {
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
