// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// level is shared by every handler Init installs, so SetLevel takes effect
// on loggers derived before the change.
var level slog.LevelVar

// Init sets the default slog logger. A nil writer means os.Stderr. Format
// is "json" or "text"; anything else falls back to text.
func Init(l slog.Level, format string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	level.Set(l)
	opts := &slog.HandlerOptions{Level: &level}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// SetLevel changes the level of the logger installed by Init.
func SetLevel(l slog.Level) { level.Set(l) }

// Level reports the current level.
func Level() slog.Level { return level.Level() }

// New returns the default logger tagged with a component attribute.
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// ParseLevel maps debug, info, warn and error (any case) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
