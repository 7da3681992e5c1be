package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel reads LOG_LEVEL (DEBUG, INFO, WARN, ERROR). Defaults to INFO.
func LogLevel() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger builds the process logger and installs it as the slog default.
//
// LOG_FORMAT selects the handler:
//   - "json" (default) for production
//   - "text" for local development
func SetupLogger() *slog.Logger {
	logger := NewLogger(os.Stdout, os.Getenv("LOG_FORMAT"), LogLevel())
	slog.SetDefault(logger)
	return logger
}

func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// WithTask returns a logger annotated with the task name and message id.
func WithTask(logger *slog.Logger, task, messageID string) *slog.Logger {
	return logger.With("task", task, "message_id", messageID)
}
