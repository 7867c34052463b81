// Package logging builds the process zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level and encoding.
type Config struct {
	Level  string
	Format string // json or console
	Output io.Writer
}

// New returns a root logger. Components derive from it with WithComponent.
func New(cfg Config) (zerolog.Logger, error) {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), err
		}
		level = parsed
	}

	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(output).Level(level).With().Timestamp().Logger(), nil
}

// WithComponent tags a logger with a component name.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
