// Package log holds the zerolog logger shared by the session manager and
// the sessionctl command. Until Configure is called, log output is discarded.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the base logger.
type Config struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer (defaults to os.Stderr)
	Service string    // optional service name attached to every log entry
}

var (
	mutex sync.RWMutex
	base  = zerolog.Nop()
)

// Configure replaces the base logger. An unrecognised level is treated as "info".
func Configure(cfg Config) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stderr
	}
	service := cfg.Service
	if service == "" {
		service = "surrealsessions"
	}

	logger := zerolog.New(writer).Level(level).With().
		Timestamp().
		Str("service", service).
		Logger()

	mutex.Lock()
	base = logger
	mutex.Unlock()
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	mutex.RLock()
	defer mutex.RUnlock()
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}
