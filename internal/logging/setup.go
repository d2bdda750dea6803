package logging

import (
	"io"
	"log/slog"
)

// New builds the process-wide logger: a JSON handler wrapped in
// RedactingHandler, matching the teacher's slog.NewJSONHandler(os.Stderr, ...)
// call in cmd/mcplexer/serve.go but routed through redaction first.
func New(w io.Writer, level slog.Level) *slog.Logger {
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(base))
}

// ParseLevel mirrors cmd/mcplexer/config.go's parseLogLevel, reading the
// BROKER_LOG_LEVEL environment value.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
