package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog replaces the default logger with a text handler on stderr,
// debug level is only enabled when verbose is set.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
