// Package log wraps slog with component-tagged loggers so every line can be
// traced back to the subsystem that wrote it.
package log

import (
	"log/slog"
	"os"
)

type Logger struct {
	*slog.Logger
}

// Config holds logger configuration
type Config struct {
	Level   slog.Level
	Handler slog.Handler
}

func DefaultConfig() Config {
	return Config{Level: slog.LevelInfo}
}

// New creates a logger and installs it as the slog default so packages that
// log through the slog package-level functions share the same handler.
func New(config Config) *Logger {
	handler := config.Handler
	if handler == nil {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.Level,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return &Logger{Logger: logger}
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(FieldComponent, component)}
}
