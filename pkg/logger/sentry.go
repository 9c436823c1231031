package logger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/getsentry/sentry-go"
)

type sentryHandler struct {
	slog.Handler
	hub   *sentry.Hub
	attrs []slog.Attr
}

func (h *sentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		h.capture(r)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *sentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sentryHandler{
		Handler: h.Handler.WithAttrs(attrs),
		hub:     h.hub,
		attrs:   append(slices.Clip(h.attrs), attrs...),
	}
}

func (h *sentryHandler) WithGroup(name string) slog.Handler {
	return &sentryHandler{
		Handler: h.Handler.WithGroup(name),
		hub:     h.hub,
		attrs:   h.attrs,
	}
}

func (h *sentryHandler) capture(r slog.Record) {
	var err error
	tags := make(map[string]string, len(h.attrs)+r.NumAttrs())

	collect := func(a slog.Attr) bool {
		if e, ok := a.Value.Any().(error); ok && a.Key == "error" {
			err = e
			return true
		}
		tags[a.Key] = a.Value.String()
		return true
	}

	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	if err == nil {
		return
	}

	h.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		h.hub.CaptureException(fmt.Errorf("%s: %w", r.Message, err))
	})
}
