package observability

import (
	"log/slog"
	"os"
)

// Logger wraps slog with a JSON handler so every line is machine-parseable.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a logger at the given slog level (0 is Info).
func NewLogger(level int) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.Level(level),
	})

	return &Logger{Logger: slog.New(handler)}
}

// Fatal is Error followed by os.Exit(1).
func (l *Logger) Fatal(msg string, args ...any) {
	l.Logger.Error(msg, args...)
	os.Exit(1)
}
