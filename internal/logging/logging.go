// Package logging configures the global zerolog logger.
//
// Usage:
//
//	logging.Setup(logging.Options{Level: "debug", Format: "console"})
//	log.Info().Str("clientId", id).Msg("client connected")
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Level  string    // "debug", "info", "warn", "error" (default: "info")
	Format string    // "console" or "json" (default: "console")
	Output io.Writer // default: os.Stdout
}

// ParseLevel converts a level name to a zerolog level.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", level)
	}
}

// Setup replaces the global logger. Call it before anything logs.
func Setup(opts Options) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	switch strings.ToLower(opts.Format) {
	case "json":
	case "console", "text", "":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	default:
		return fmt.Errorf("unknown log format %q (valid: console, json)", opts.Format)
	}

	zerolog.SetGlobalLevel(lvl)
	ctx := zerolog.New(out).With().Timestamp()
	if lvl == zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}
