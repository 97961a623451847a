package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// fanoutHandler dispatches every record to all of its constituent handlers.
// No stdlib or pretty-handler type does this already, so it's a small
// wrapper rather than a hand-rolled io.MultiWriter shim around a single
// PrettyHandler (which wouldn't let stderr stay colorized while the log
// file stays plain).
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

// Setup opens logPath (truncating any prior contents) and returns a Logger
// that writes colorized records to stderr and plain records to the file.
// The caller is responsible for closing the returned *os.File when the
// process exits.
func Setup(logPath string) (*slog.Logger, *os.File, error) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open %s: %w", logPath, err)
	}

	stderrOpts := DefaultOptions()
	stderrOpts.UseColor = true

	fileOpts := DefaultOptions()
	fileOpts.UseColor = false

	handler := &fanoutHandler{
		handlers: []slog.Handler{
			NewPrettyHandler(os.Stderr, &stderrOpts),
			NewPrettyHandler(f, &fileOpts),
		},
	}

	return slog.New(handler), f, nil
}
