package util

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

type disableLoggerKey struct{}

// LogFromContext returns the logger attached to ctx, falling back to the
// global logger unless logging was explicitly disabled for ctx.
func LogFromContext(ctx context.Context) *zerolog.Logger {
	l := log.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		if ShouldDisableLogger(ctx) {
			return l
		}
		l = &log.Logger
	}
	return l
}

// WithLogger attaches l to ctx.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// DisableLogger marks ctx so LogFromContext returns a disabled logger.
func DisableLogger(ctx context.Context, shouldDisable bool) context.Context {
	return context.WithValue(ctx, disableLoggerKey{}, shouldDisable)
}

// ShouldDisableLogger reports whether DisableLogger was set on ctx.
func ShouldDisableLogger(ctx context.Context) bool {
	s, ok := ctx.Value(disableLoggerKey{}).(bool)
	return ok && s
}

// LoggerConfig controls the global logger.
type LoggerConfig struct {
	Level              zerolog.Level
	PrettyPrintConsole bool
	Caller             bool
}

// ConfigureLogger sets up the global zerolog logger. Pretty console output is
// only used when stdout is a terminal.
func ConfigureLogger(cfg LoggerConfig) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(cfg.Level)

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.PrettyPrintConsole && term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec // fd fits in int
		logger = logger.Output(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.TimeFormat = "15:04:05"
		}))
	}
	if cfg.Caller {
		logger = logger.With().Caller().Logger()
	}

	log.Logger = logger
}
