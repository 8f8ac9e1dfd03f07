// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string
	Service    string
}

// DefaultConfig returns the production logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init configures the global zerolog logger and returns it.
func Init(cfg Config) zerolog.Logger {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = New(os.Stdout, cfg)
	return log.Logger
}

// New builds a logger writing to w without touching global state.
func New(w io.Writer, cfg Config) zerolog.Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.Kitchen,
		}
	}

	ctx := zerolog.New(w).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	return ctx.Logger()
}

// WithComponent returns a child of parent tagged with a component name.
func WithComponent(parent zerolog.Logger, component string) zerolog.Logger {
	return parent.With().
		Str("component", component).
		Logger()
}

// WithJob returns a logger carrying worker job context.
func WithJob(parent zerolog.Logger, jobID, room string) zerolog.Logger {
	return parent.With().
		Str("jobId", jobID).
		Str("room", room).
		Logger()
}

// WithSession returns a logger scoped to one voice session.
func WithSession(parent zerolog.Logger, sessionID, room string) zerolog.Logger {
	return parent.With().
		Str("sessionId", sessionID).
		Str("room", room).
		Logger()
}
