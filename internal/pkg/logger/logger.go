package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

// Initialize creates and configures the default logger
func Initialize(env, level string) *slog.Logger {
	defaultLogger = New(os.Stdout, env, level)
	slog.SetDefault(defaultLogger)

	return defaultLogger
}

// New builds a logger writing to w without touching the process default
func New(w io.Writer, env, level string) *slog.Logger {
	var handler slog.Handler

	if env == "production" {
		// JSON logging for production
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     ParseLevel(level, slog.LevelInfo),
			AddSource: false,
		})
	} else {
		// Pretty text logging for development
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     ParseLevel(level, slog.LevelDebug),
			AddSource: true,
		})
	}

	return slog.New(handler)
}

// ParseLevel maps a LOG_LEVEL value to a slog level, returning fallback when empty or unknown
func ParseLevel(level string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}

// Get returns the default logger instance
func Get() *slog.Logger {
	if defaultLogger == nil {
		return Initialize("development", "")
	}
	return defaultLogger
}

// NewServiceLogger creates a logger for a specific service
func NewServiceLogger(serviceName string) *slog.Logger {
	return Get().With(slog.String("service", serviceName))
}
