// Package observability exposes Prometheus instrumentation and logging
// bootstrap for the server core.
package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide zerolog logger. Level names follow
// zerolog ("debug", "info", "warn", "error"); unknown names fall back to
// info. When pretty is true, output is human-readable console format for
// development; otherwise structured JSON.
func NewLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var lg zerolog.Logger
	if pretty {
		lg = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		lg = zerolog.New(os.Stderr)
	}
	return lg.Level(lvl).With().Timestamp().Logger()
}
