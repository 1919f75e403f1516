package logging

import (
	"context"
	"log/slog"
)

// ComponentKey is the attribute that names the component a record
// belongs to.
const ComponentKey = "component"

// filteringHandler drops records below the level the spec assigns to
// their component. The component is taken from the logger's attributes
// and, when a record carries its own component attribute, from the
// record.
type filteringHandler struct {
	inner     slog.Handler
	spec      *Spec
	component string
}

// NewFilteringHandler wraps inner with component-level filtering.
func NewFilteringHandler(inner slog.Handler, spec *Spec) slog.Handler {
	return &filteringHandler{
		inner: inner,
		spec:  spec,
	}
}

// Enabled is evaluated before the record's own attributes are known,
// so it admits anything some component could log and Handle makes the
// final decision.
func (h *filteringHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.component != "" {
		return level >= h.spec.LevelFor(h.component).ToSlog()
	}
	return level >= h.spec.Min().ToSlog()
}

func (h *filteringHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == ComponentKey {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.spec.LevelFor(component).ToSlog() {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &filteringHandler{
		inner:     h.inner.WithAttrs(attrs),
		spec:      h.spec,
		component: h.component,
	}
	for _, a := range attrs {
		if a.Key == ComponentKey {
			next.component = a.Value.String()
		}
	}
	return next
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{
		inner:     h.inner.WithGroup(name),
		spec:      h.spec,
		component: h.component,
	}
}
