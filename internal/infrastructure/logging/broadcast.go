package logging

import (
	"context"
	"log/slog"
	"time"
)

// Broadcaster receives log entries for live streaming, e.g. to WebSocket
// clients. Broadcast must not block.
type Broadcaster interface {
	Broadcast(msg any)
}

// Entry is the payload handed to a Broadcaster.
type Entry struct {
	Type    string         `json:"type"`
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Broadcasting returns a Logger that also forwards every enabled record to b.
// The original logger is unchanged.
func (l *Logger) Broadcasting(b Broadcaster) *Logger {
	return &Logger{
		Logger: slog.New(&broadcastHandler{next: l.Handler(), b: b}),
	}
}

type broadcastHandler struct {
	next   slog.Handler
	b      Broadcaster
	attrs  []slog.Attr
	prefix string
}

func (h *broadcastHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *broadcastHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := Entry{
		Type:    "log",
		Time:    r.Time.UTC(),
		Level:   r.Level.String(),
		Message: r.Message,
	}
	if n := len(h.attrs) + r.NumAttrs(); n > 0 {
		entry.Attrs = make(map[string]any, n)
		for _, a := range h.attrs {
			addAttr(entry.Attrs, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			addAttr(entry.Attrs, h.prefix, a)
			return true
		})
	}
	h.b.Broadcast(entry)
	return h.next.Handle(ctx, r)
}

func (h *broadcastHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefixed := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	prefixed = append(prefixed, h.attrs...)
	for _, a := range attrs {
		prefixed = append(prefixed, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &broadcastHandler{next: h.next.WithAttrs(attrs), b: h.b, attrs: prefixed, prefix: h.prefix}
}

func (h *broadcastHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &broadcastHandler{next: h.next.WithGroup(name), b: h.b, attrs: h.attrs, prefix: h.prefix + name + "."}
}

// addAttr stores a under prefix+key. Groups are flattened into dotted keys
// the same way WithGroup names them, and an empty group key is inlined.
func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	key := prefix + a.Key
	if a.Key != "" && isCredentialKey(key) {
		dst[key] = Redacted
		return
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = key + "."
		}
		for _, ga := range v.Group() {
			addAttr(dst, inner, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[key] = attrValue(key, v)
}

// attrValue flattens errors to strings so the entry survives JSON encoding.
// Credential keys are redacted here too: the stream bypasses ReplaceAttr.
func attrValue(key string, v slog.Value) any {
	if isCredentialKey(key) {
		return Redacted
	}
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	return v.Any()
}
