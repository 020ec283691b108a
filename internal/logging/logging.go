// Package logging builds the relay's structured zerolog logger.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger for the given level ("debug"/"info"/"warn"/
// "error") and format ("json"/"pretty"). An unrecognized level defaults to
// info; this mirrors env validation already rejecting bad values before
// this is called, so the default only matters for direct callers.
func New(level, format string) zerolog.Logger {
	var zlevel zerolog.Level
	switch level {
	case "debug":
		zlevel = zerolog.DebugLevel
	case "warn":
		zlevel = zerolog.WarnLevel
	case "error":
		zlevel = zerolog.ErrorLevel
	default:
		zlevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zlevel)

	var output io.Writer = os.Stdout
	if format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).With().
		Timestamp().
		Caller().
		Str("service", "chatrelay").
		Logger()
}

// RecoverPanic is meant to be deferred at the top of any goroutine the
// relay spawns outside the worker pool (which has its own recovery). It
// logs a recovered panic with a stack trace instead of crashing the
// process.
func RecoverPanic(logger zerolog.Logger, goroutine string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("goroutine", goroutine).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack())).
			Msg("goroutine panic recovered")
	}
}
