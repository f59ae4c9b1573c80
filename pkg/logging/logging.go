// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup points the global logger at stderr. Console output is meant for
// humans; json is one object per line. debug lowers the level to debug.
func Setup(debug, json bool) {
	SetupWriter(os.Stderr, debug, json)
}

// SetupWriter is Setup with an explicit writer.
func SetupWriter(w io.Writer, debug, json bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	out := w
	if !json {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000", NoColor: true}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
