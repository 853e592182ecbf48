package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the global slog default logger based on the format and
// level strings from application configuration.
//
// format: "json" → JSONHandler (machine readable; recommended for production),
// anything else → TextHandler (human readable, for local development).
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
//
// Installing the configured handler as the default means slog.Info/Warn/Error
// calls elsewhere pick it up without threading a *slog.Logger through every
// constructor. Source locations are attached only at debug level.
func SetupLogger(format, level string) {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
