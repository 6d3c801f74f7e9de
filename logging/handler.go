package logging

import (
	"context"
	"log/slog"
)

// componentKey is the attribute key that names a component for
// per-component filtering.
const componentKey = "component"

// filteringHandler filters records against the per-component levels of
// a Spec before delegating to an inner handler.
type filteringHandler struct {
	inner     slog.Handler
	spec      *Spec
	component string
}

// NewFilteringHandler wraps inner with per-component level filtering
// driven by spec. The component in effect for a record is taken from
// the most recent "component" attribute attached via WithAttrs.
func NewFilteringHandler(inner slog.Handler, spec *Spec) slog.Handler {
	return &filteringHandler{
		inner: inner,
		spec:  spec,
	}
}

// Enabled checks the level against the spec for the current component.
func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.spec.LevelFor(h.component).ToSlog()
}

// Handle delegates to the inner handler if the record passes filtering.
func (h *filteringHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a handler with the attributes added. A "component"
// attribute switches the handler's filtering component.
func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := &filteringHandler{
		inner:     h.inner.WithAttrs(attrs),
		spec:      h.spec,
		component: h.component,
	}
	for _, attr := range attrs {
		if attr.Key == componentKey {
			nh.component = attr.Value.String()
			break
		}
	}
	return nh
}

// WithGroup returns a handler with the group added, preserving the
// current component.
func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{
		inner:     h.inner.WithGroup(name),
		spec:      h.spec,
		component: h.component,
	}
}
