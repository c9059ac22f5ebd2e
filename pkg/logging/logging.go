// Package logging configures the global zerolog logger and bridges it to the
// libraries that bring their own logger interface.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

type Options struct {
	Level      string
	Format     string
	WithCaller bool
	// Output defaults to stderr.
	Output io.Writer
}

// InitLogger replaces log.Logger and sets the global level. Text output is
// colored only when the output is a terminal.
func InitLogger(opts Options) error {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", opts.Level)
		}
		level = l
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var w io.Writer
	switch strings.ToLower(opts.Format) {
	case "", FormatText:
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
			NoColor:    !isTerminal(out),
		}
	case FormatJSON:
		w = out
	default:
		return errors.Errorf("invalid log format %q", opts.Format)
	}

	zerolog.SetGlobalLevel(level)
	ctx := zerolog.New(w).With().Timestamp()
	if opts.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
