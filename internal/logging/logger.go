package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the verbosity and rendering of the logger
type Options struct {
	Verbose bool
	Quiet   bool
	NoColor bool

	// Out defaults to stderr so plan output on stdout stays clean
	Out io.Writer
}

// Init builds the console logger for app and installs it as the global logger
func Init(app string, opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    opts.NoColor,
	}
	logger := zerolog.New(output).
		Level(Level(opts.Verbose, opts.Quiet)).
		With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// Level maps the CLI flags to a log level. Verbose wins over quiet.
func Level(verbose, quiet bool) zerolog.Level {
	switch {
	case verbose:
		return zerolog.DebugLevel
	case quiet:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
