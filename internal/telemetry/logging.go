package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel разбирает уровень логирования: DEBUG, INFO, WARN, ERROR
// (регистр не важен). Неизвестное значение даёт INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger создаёт логгер с заданным уровнем и форматом ("json" или "text").
// Каждая запись несёт атрибут service.
func NewLogger(w io.Writer, service string, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

// SetupLogger инициализирует глобальный логгер сервиса.
//
// Уровень берётся из LOG_LEVEL, формат из LOG_FORMAT:
//   - "json" (по умолчанию) для production
//   - "text" для локальной разработки
func SetupLogger(service string) *slog.Logger {
	logger := NewLogger(os.Stdout, service, ParseLevel(os.Getenv("LOG_LEVEL")), os.Getenv("LOG_FORMAT"))
	slog.SetDefault(logger)
	return logger
}

// WithReleaseID возвращает логгер с release_id.
func WithReleaseID(logger *slog.Logger, releaseID string) *slog.Logger {
	return logger.With("release_id", releaseID)
}

// WithTaskID возвращает логгер с task_id.
func WithTaskID(logger *slog.Logger, taskID string) *slog.Logger {
	return logger.With("task_id", taskID)
}
