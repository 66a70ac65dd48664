// Package log provides the structured logger shared by every screenrec
// component.
package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer (defaults to os.Stderr)
	Service string    // optional service name attached to every log entry
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure initialises the global zerolog logger exactly once.
func Configure(cfg Config) {
	once.Do(func() {
		zerolog.SetGlobalLevel(resolveLevel(cfg.Level))
		zerolog.TimeFieldFormat = time.RFC3339Nano

		writer := cfg.Output
		if writer == nil {
			writer = debugWriter()
		}

		service := cfg.Service
		if service == "" {
			service = "screenrec"
		}

		base = zerolog.New(writer).With().
			Timestamp().
			Str("service", service).
			Logger()
	})
}

func resolveLevel(level string) zerolog.Level {
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			return parsed
		}
	}
	if env := strings.TrimSpace(os.Getenv("SCREENREC_LOG_LEVEL")); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			return parsed
		}
	}
	if DebugEnabled() {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// DebugEnabled reports whether the SCREENCAST_DEBUG umbrella switch is on.
func DebugEnabled() bool {
	return strings.TrimSpace(os.Getenv("SCREENCAST_DEBUG")) == "1"
}

// debugWriter honours SCREENCAST_DEBUG_FILE and falls back to stderr.
func debugWriter() io.Writer {
	p := strings.TrimSpace(os.Getenv("SCREENCAST_DEBUG_FILE"))
	if p == "" {
		return os.Stderr
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "screenrec debug log open failed: "+err.Error()+"\n")
		return os.Stderr
	}
	return f
}

func logger() zerolog.Logger {
	Configure(Config{})
	return base
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str(FieldComponent, component).Logger()
}

// Derive attaches arbitrary fields to a child logger using the provided builder function.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := logger().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}
