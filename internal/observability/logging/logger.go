// Package logging builds the process-wide JSON logger shared by the api and
// worker binaries.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger writes JSON lines to stdout, tagged with the application and
// the emitting process so both binaries can share one log stream.
func NewJSONLogger(service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With(
		slog.String("app", "docquery"),
		slog.String("service", service),
	)
}

// parseLevel accepts the usual slog level names plus the "warning" alias;
// anything unrecognized falls back to info rather than failing startup.
func parseLevel(raw string) slog.Level {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "warning" {
		raw = "warn"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}
