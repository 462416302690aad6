package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/OCAP2/copterviz/pkg/core"
)

// SessionSource reports the active session and the last frame assembled in
// it. *session.Context satisfies it.
type SessionSource interface {
	Current() (core.Session, bool)
	LastFrame() uint64
}

// sink is one named log destination.
type sink struct {
	name    string
	handler slog.Handler
}

// sinkSet fans records out to every enabled sink. A failing sink does not
// stop the others; the failures are joined and returned.
type sinkSet struct {
	sinks []sink
}

func newSinkSet(sinks ...sink) *sinkSet {
	valid := make([]sink, 0, len(sinks))
	for _, s := range sinks {
		if s.handler != nil {
			valid = append(valid, s)
		}
	}
	return &sinkSet{sinks: valid}
}

func (s *sinkSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sk := range s.sinks {
		if sk.handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (s *sinkSet) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, sk := range s.sinks {
		if !sk.handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := sk.handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", sk.name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *sinkSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *sinkSet) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	return s.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (s *sinkSet) each(fn func(slog.Handler) slog.Handler) *sinkSet {
	sinks := make([]sink, len(s.sinks))
	for i, sk := range s.sinks {
		sinks[i] = sink{name: sk.name, handler: fn(sk.handler)}
	}
	return &sinkSet{sinks: sinks}
}

// SessionHandler stamps every record with the active session and the last
// assembled frame, so a log line can be matched to what the viewer showed.
// Records outside a session carry no session attributes.
type SessionHandler struct {
	inner   slog.Handler
	session SessionSource
}

// NewSessionHandler wraps inner. A nil source makes it a pass-through.
func NewSessionHandler(inner slog.Handler, source SessionSource) *SessionHandler {
	return &SessionHandler{inner: inner, session: source}
}

// Enabled delegates to the inner handler.
func (h *SessionHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds session.id, session.name and frame, then delegates.
func (h *SessionHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.session != nil {
		if s, ok := h.session.Current(); ok {
			r.AddAttrs(
				slog.Group("session",
					slog.String("id", s.ID.String()),
					slog.String("name", s.Name),
				),
				slog.Uint64("frame", h.session.LastFrame()),
			)
		}
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a SessionHandler over inner.WithAttrs.
func (h *SessionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SessionHandler{inner: h.inner.WithAttrs(attrs), session: h.session}
}

// WithGroup returns a SessionHandler over inner.WithGroup. The session
// attributes then land inside the group.
func (h *SessionHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &SessionHandler{inner: h.inner.WithGroup(name), session: h.session}
}
