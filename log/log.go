// Package log provides component-scoped structured logging for every
// module in this repository: one zerolog.Logger per module, JSON to
// stdout in production, console-pretty when APP_ENV=dev.
package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger scoped to component ("clocksync", "dispatch",
// "groupview", "transport", ...), so every dropped message or degraded
// event can be traced back to the module that logged it.
func New(component string) zerolog.Logger {
	env := strings.ToLower(os.Getenv("APP_ENV"))
	if env == "dev" {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(writer).With().Timestamp().Str("component", component).Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("component", component).Logger()
}
