package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Handler is a slog.Handler that writes compact key=value lines to stderr.
type Handler struct {
	inner slog.Handler
	attrs []slog.Attr
}

// NewHandler creates a new Handler. A nil opts uses the default level.
func NewHandler(opts *slog.HandlerOptions) *Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: slog.LevelInfo}
	}

	return &Handler{
		inner: slog.NewTextHandler(os.Stderr, opts),
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle writes the record through the underlying text handler.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	for _, attr := range h.attrs {
		record.AddAttrs(attr)
	}

	return h.inner.Handle(ctx, record)
}

// WithAttrs returns a new Handler with the given attributes attached to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		inner: h.inner,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

// WithGroup returns a new Handler with the given group name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}

	return &Handler{
		inner: h.inner.WithGroup(name),
		attrs: h.attrs,
	}
}
