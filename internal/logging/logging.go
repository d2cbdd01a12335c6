// Package logging builds the structured logger used throughout
// tunnelrotor: timestamp, severity, message, written to both the
// configured log file and stdout (spec.md §6).
package logging

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to both logFile (appended) and
// a human-readable console writer on stdout.
func New(logFile string, level string) (zerolog.Logger, *os.File, error) {
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	multi := io.MultiWriter(console, f)

	lvl, parseErr := zerolog.ParseLevel(level)
	if parseErr != nil {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(multi).Level(lvl).With().Timestamp().Logger()
	return logger, f, nil
}

// Critical logs at CRITICAL severity, per spec.md §6 ("no secondary
// available for failover"). zerolog has no built-in level above Error,
// so CRITICAL is modeled as an Error record tagged with severity=CRITICAL.
func Critical(logger zerolog.Logger) *zerolog.Event {
	return logger.Error().Str("severity", "CRITICAL")
}

type ctxKey struct{}

// WithLogger attaches logger to ctx, following the zerolog.Ctx /
// WithContext convention used throughout the example pack.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromContext retrieves the logger attached to ctx. If none was
// attached it returns zerolog.DefaultContextLogger when that is set,
// and otherwise a disabled logger that writes nothing.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
