// Package logging configures the process-wide slog logger for the
// Clipcast CLI. The level comes from CLIPCAST_LOG_LEVEL; the default
// keeps the terminal quiet so only errors compete with the live view.
package logging

import (
	"log/slog"
	"os"
)

const levelEnv = "CLIPCAST_LOG_LEVEL"

func Init() {
	level := slog.LevelError

	if l, ok := os.LookupEnv(levelEnv); ok {
		level = parseLevel(l)
	}

	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}

// parseLevel maps an env value to a level. Unknown values keep the
// error default rather than failing startup.
func parseLevel(value string) slog.Level {
	switch value {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
