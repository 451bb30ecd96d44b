package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"idempotency/internal/config"
)

// Setup configures the global structured logger from cfg and returns it.
func Setup(cfg config.Config) *slog.Logger {
	logger := slog.New(NewHandler(os.Stdout, cfg))
	slog.SetDefault(logger)
	return logger
}

// NewHandler picks a handler for cfg.LogFormat (json, text or pretty).
// Without an explicit format, production gets JSON and everything else
// gets pretty text.
func NewHandler(w io.Writer, cfg config.Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     Level(cfg),
		AddSource: os.Getenv("LOG_SOURCE") == "true",
	}

	format := strings.ToLower(cfg.LogFormat)
	if format == "" {
		format = "pretty"
		if cfg.IsProduction() {
			format = "json"
		}
	}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "pretty":
		opts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		}
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// Level maps cfg.LogLevel to a slog level. Unset means DEBUG outside
// production and INFO in production.
func Level(cfg config.Config) slog.Level {
	level := cfg.LogLevel
	if level == "" {
		if cfg.IsProduction() {
			level = "INFO"
		} else {
			level = "DEBUG"
		}
	}

	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
