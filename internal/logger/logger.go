package logger

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New creates a logger writing to w. Unknown levels fall back to info.
func New(w io.Writer, level, format, service string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if strings.ToLower(format) == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zc := zerolog.New(w).Level(lvl).With().Timestamp()
	if service != "" {
		zc = zc.Str("service", service)
	}
	return zc.Logger()
}

// Init builds the process logger on stderr and routes the global zerolog
// logger and the standard library logger through it.
func Init(level, format, service string) zerolog.Logger {
	l := New(os.Stderr, level, format, service)
	log.Logger = l
	stdlog.SetFlags(0)
	stdlog.SetOutput(l)
	return l
}
