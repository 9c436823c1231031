package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lmittmann/tint"
)

type Logger = *slog.Logger

type Options struct {
	// Debug enables debug level, info otherwise
	Debug bool

	// Sentry receives error records carrying an "error" attribute, nil disables forwarding
	Sentry *sentry.Hub
}

func NewLogger() Logger {
	return New(Options{Debug: true})
}

func New(opts Options) Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler = tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})

	if opts.Sentry != nil {
		handler = &sentryHandler{Handler: handler, hub: opts.Sentry}
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything, handy in tests.
func Discard() Logger {
	return slog.New(slog.DiscardHandler)
}
