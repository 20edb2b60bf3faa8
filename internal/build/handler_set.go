package build

import (
	"context"
	"errors"
	"log/slog"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// HandlerSet is a btclog.Handler writing every record to several handlers,
// the console and the rotating log file in the daemon.
type HandlerSet struct {
	level btclog.Level
	set   []btclogv2.Handler
	out   fanout
}

// NewHandlerSet constructs a HandlerSet at the Info level.
func NewHandlerSet(handlers ...btclogv2.Handler) *HandlerSet {
	return newHandlerSet(handlers, btclog.LevelInfo)
}

// newHandlerSet creates a set fanning records out to handlers at level.
func newHandlerSet(handlers []btclogv2.Handler,
	level btclog.Level) *HandlerSet {

	h := &HandlerSet{
		set: handlers,
		out: make(fanout, len(handlers)),
	}
	for i, handler := range handlers {
		h.out[i] = handler
	}
	h.SetLevel(level)

	return h
}

// mapHandlers applies f to each handler of the set, keeping the level.
func (h *HandlerSet) mapHandlers(
	f func(btclogv2.Handler) btclogv2.Handler) *HandlerSet {

	mapped := make([]btclogv2.Handler, len(h.set))
	for i, handler := range h.set {
		mapped[i] = f(handler)
	}

	return newHandlerSet(mapped, h.level)
}

// Enabled is part of the slog.Handler interface.
func (h *HandlerSet) Enabled(ctx context.Context, level slog.Level) bool {
	return h.out.Enabled(ctx, level)
}

// Handle is part of the slog.Handler interface.
func (h *HandlerSet) Handle(ctx context.Context, record slog.Record) error {
	return h.out.Handle(ctx, record)
}

// WithAttrs is part of the slog.Handler interface.
func (h *HandlerSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.out.WithAttrs(attrs)
}

// WithGroup is part of the slog.Handler interface.
func (h *HandlerSet) WithGroup(name string) slog.Handler {
	return h.out.WithGroup(name)
}

// SubSystem returns a set tagging every record with tag. The level is
// carried over.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *HandlerSet) SubSystem(tag string) btclogv2.Handler {
	return h.mapHandlers(func(handler btclogv2.Handler) btclogv2.Handler {
		return handler.SubSystem(tag)
	})
}

// SetLevel changes the level of every handler in the set.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *HandlerSet) SetLevel(level btclog.Level) {
	for _, handler := range h.set {
		handler.SetLevel(level)
	}
	h.level = level
}

// Level is part of the btclog.Handler interface.
func (h *HandlerSet) Level() btclog.Level {
	return h.level
}

// WithPrefix is part of the btclog.Handler interface.
func (h *HandlerSet) WithPrefix(prefix string) btclogv2.Handler {
	return h.mapHandlers(func(handler btclogv2.Handler) btclogv2.Handler {
		return handler.WithPrefix(prefix)
	})
}

var _ btclogv2.Handler = (*HandlerSet)(nil)

// fanout is the plain slog side of a HandlerSet. WithAttrs and WithGroup
// only yield slog.Handlers, so they continue as a fanout.
type fanout []slog.Handler

// Enabled reports whether any handler wants records at level.
func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range f {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

// Handle passes the record to every handler that wants it. A failing
// handler does not keep the record from the others.
func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range f {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}

		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// WithAttrs returns a fanout whose handlers all carry attrs.
func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, handler := range f {
		out[i] = handler.WithAttrs(attrs)
	}

	return out
}

// WithGroup returns a fanout whose handlers all open the group.
func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, handler := range f {
		out[i] = handler.WithGroup(name)
	}

	return out
}

var _ slog.Handler = fanout(nil)
