// Package sysutil holds process-level helpers used by the server entrypoint:
// log setup and small environment-string utilities.
package sysutil

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns the base process logger. With pretty set, output is
// human-readable console text; otherwise one JSON object per line. A nil w
// writes to stderr.
func NewLogger(pretty bool, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Str("service", "go-calshare-backend").Logger()
}

// SetLogLevel sets the global zerolog level. Names are case-insensitive
// zerolog level names plus "warning"; anything unrecognized (or empty) means
// info.
func SetLogLevel(lvl string) {
	name := strings.ToLower(strings.TrimSpace(lvl))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// IsTruthy accepts what strconv.ParseBool accepts as true, plus yes/y/on.
func IsTruthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v == "yes" || v == "y" || v == "on"
}

// FirstNonEmpty returns the first argument that is not blank, untrimmed.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
