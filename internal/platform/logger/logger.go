package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output so the worker's
// logs are machine-collectable alongside its metrics.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// ForComponent tags a child logger with the component it belongs to.
func ForComponent(log *slog.Logger, name string) *slog.Logger {
	return log.With("component", name)
}
