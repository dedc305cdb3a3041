package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/propertygo/viewing/internal/config"
)

// New builds the service logger. Development mode with debug enabled gets a
// human readable console writer, everything else is JSON on stdout.
func New(cfg config.AppConfig) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.IsDevelopment() && cfg.Debug {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(out, cfg.LogLevel).With().Str("env", cfg.Environment).Logger()
}

// NewWithWriter builds a logger at the given level writing to out.
// Unknown levels fall back to info.
func NewWithWriter(out io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "viewing").Logger()
}
