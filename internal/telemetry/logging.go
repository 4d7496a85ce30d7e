package telemetry

import (
	"io"
	"log/slog"
)

// LogLevel is the threshold of loggers built by NewJSONLogger. Functions set
// it from LOG_LEVEL once their configuration is loaded.
var LogLevel = new(slog.LevelVar)

// NewJSONLogger returns the structured logger used by every function.
func NewJSONLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: LogLevel}))
}
