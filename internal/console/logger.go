package console

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a human-readable logger writing to w. Debug enables
// debug level; otherwise info and above are logged.
func NewLogger(w io.Writer, debug, color bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !color,
		TimeFormat: time.Kitchen,
	}).Level(level).With().Timestamp().Logger()
}
