// Package logging builds the agent's zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel  = "MINIUI_LOG_LEVEL"
	EnvLogFormat = "MINIUI_LOG_FORMAT"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Options struct {
	App    string
	Level  string
	Format string
}

// New returns a logger writing to w. Environment overrides win over opts.
func New(opts Options, w io.Writer) (zerolog.Logger, error) {
	applyEnvOverrides(&opts)
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	format, err := ParseFormat(opts.Format)
	if err != nil {
		return zerolog.Nop(), err
	}
	if w == nil {
		w = os.Stderr
	}
	if format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	ctx := zerolog.New(w).Level(lvl).With().Timestamp()
	if opts.App != "" {
		ctx = ctx.Str("app", opts.App)
	}
	return ctx.Logger(), nil
}

func applyEnvOverrides(opts *Options) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		opts.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		opts.Format = v
	}
}

func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off", "none":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", raw)
	}
}

func ParseFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", FormatConsole:
		return FormatConsole, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q", raw)
	}
}
