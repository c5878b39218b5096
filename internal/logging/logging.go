// Package logging wires the zerolog structured logger used across summa.
// Grounded on withObsrvr-ttp-processor-demo/arrow-consumer-demo, which
// imports rs/zerolog for its own service logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing pretty console output when pretty is true
// (local dev), otherwise plain JSON lines (production/container logs).
func New(pretty bool) zerolog.Logger {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).With().Timestamp().Logger()
}

// Nop is used by tests and call sites that don't want to thread a logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
