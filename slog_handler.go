package eventlog

import (
	"context"
	"log/slog"
	"os"
)

// SlogHandler adapts a Handler to the slog.Handler interface — the
// concrete realization of "host logging integration" for Go, where there
// is no single universal handler interface the way Python's
// logging.Handler is.
type SlogHandler struct {
	target *Handler
	attrs  []slog.Attr
	groups []string
	pid    int
	host   string
}

// NewSlogHandler wraps target so it can be installed via slog.SetDefault
// or handed to slog.New.
func NewSlogHandler(target *Handler) *SlogHandler {
	host, _ := os.Hostname()
	return &SlogHandler{
		target: target,
		pid:    os.Getpid(),
		host:   host,
	}
}

func (h *SlogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *SlogHandler) Handle(ctx context.Context, record slog.Record) error {
	fields := make(map[string]any, record.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		fields[h.qualify(a.Key)] = a.Value.Any()
	}
	record.Attrs(func(a slog.Attr) bool {
		fields[h.qualify(a.Key)] = a.Value.Any()
		return true
	})

	h.target.Emit(Record{
		Time:    record.Time,
		Level:   record.Level.String(),
		Message: record.Message,
		Host:    h.host,
		PID:     h.pid,
		Fields:  fields,
	})
	return nil
}

func (h *SlogHandler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	prefix := ""
	for _, g := range h.groups {
		prefix += g + "."
	}
	return prefix + key
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

var _ slog.Handler = (*SlogHandler)(nil)
