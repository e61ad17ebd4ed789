package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/tvbridge/core/internal/infrastructure/config"
)

// Logger is the application logger: slog with the service name and
// version attached to every record. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging configuration: JSON or text
// handler, level filtering, stdout or stderr. Unrecognised values fall
// back to JSON on stdout at info level.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "tvbridge"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
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

// With returns a logger carrying additional default attributes:
//
//	adbLogger := logger.With("component", "adb")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default returns a logger for use before the configuration is loaded:
// JSON on stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
