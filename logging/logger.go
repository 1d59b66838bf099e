package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// New builds the service logger: a console handler (json or text) gated by
// the verbosity table, optionally fanned out to extra handlers such as the
// client log bridge.
func New(verbosity int, format string, w io.Writer, extra ...slog.Handler) *slog.Logger {
	level := VerbosityLevel(verbosity)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			// Render the extended levels with their own names.
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(LevelName(lvl))
				}
			}
			return a
		},
	}

	var console slog.Handler
	switch strings.ToLower(format) {
	case "text":
		console = slog.NewTextHandler(w, opts)
	default:
		console = slog.NewJSONHandler(w, opts)
	}

	handlers := append([]slog.Handler{console}, extra...)
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(&teeHandler{handlers: handlers})
}

// teeHandler fans each record out to every child handler.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	children := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		children[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: children}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	children := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		children[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: children}
}
