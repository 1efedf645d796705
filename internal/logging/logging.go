package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Init installs the default slog logger. The level comes from LOG_LEVEL and
// falls back to fallback when unset or unknown.
func Init(fallback slog.Level) {
	level := ParseLevel(os.Getenv("LOG_LEVEL"), fallback)

	_, noColor := os.LookupEnv("NO_COLOR")
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    noColor,
		}),
	)
	slog.SetDefault(logger)
}

// ParseLevel maps the LOG_LEVEL vocabulary onto slog levels.
func ParseLevel(s string, fallback slog.Level) slog.Level {
	switch s {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return fallback
}
