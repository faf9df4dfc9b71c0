// Package logging configures the process-wide phuslu logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// Options selects level and output format.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // console or json
}

// Setup replaces log.DefaultLogger. A nil writer means stderr, which keeps
// stdout free for the MCP stdio transport.
func Setup(opts Options, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}

	var writer log.Writer
	if strings.EqualFold(opts.Format, "json") {
		writer = &log.IOWriter{Writer: w}
	} else {
		writer = &log.ConsoleWriter{
			Writer:         w,
			ColorOutput:    isTerminal(w),
			QuoteString:    true,
			EndWithMessage: true,
		}
	}

	log.DefaultLogger = log.Logger{
		Level:      ParseLevel(opts.Level),
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Writer:     writer,
	}
}

// ParseLevel maps a level name to a phuslu level. Unknown names fall back to info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
