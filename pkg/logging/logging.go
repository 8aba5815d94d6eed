// Package logging configures the process-wide logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds a console logger writing to w. Verbose enables debug
// level; the default is warn so command output stays clean.
func New(w io.Writer, verbose bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return logger
}

// Init sets up the global logger on stderr and returns it.
func Init(verbose bool) zerolog.Logger {
	logger := New(os.Stderr, verbose)
	log.Logger = logger
	return logger
}
