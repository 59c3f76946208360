// Package logging constructs the process loggers used across agentvm.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Mode selects the record format of a constructed logger.
type Mode int

const (
	// ModeText renders terse human-readable records for terminal use.
	ModeText Mode = iota
	// ModeJSON renders one JSON object per record.
	ModeJSON
)

// New builds a logger writing to w. A nil level defaults to slog.LevelInfo.
func New(mode Mode, w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: nil writer")
	}
	if level == nil {
		level = slog.LevelInfo
	}
	if mode == ModeJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&textHandler{w: w, level: level})
}

// NewText builds a terminal-oriented logger.
func NewText(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeText, w, level)
}

// NewJSON builds a structured JSON logger.
func NewJSON(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeJSON, w, level)
}

// Ensure returns logger, or the process default when logger is nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// textHandler prints records as "LEVEL hh:mm:ss msg key=value ...".
type textHandler struct {
	w     io.Writer
	level slog.Leveler

	mu    sync.Mutex
	attrs []slog.Attr
	group string
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, rec slog.Record) error {
	var b strings.Builder
	ts := rec.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(strings.ToUpper(rec.Level.String()))
	b.WriteByte(' ')
	b.WriteString(ts.Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(rec.Message)

	for _, attr := range h.attrs {
		h.writeAttr(&b, attr)
	}
	rec.Attrs(func(attr slog.Attr) bool {
		h.writeAttr(&b, attr)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &textHandler{w: h.w, level: h.level, attrs: merged, group: h.group}
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	prefix := name
	if h.group != "" {
		prefix = h.group + "." + name
	}
	return &textHandler{w: h.w, level: h.level, attrs: h.attrs, group: prefix}
}

func (h *textHandler) writeAttr(b *strings.Builder, attr slog.Attr) {
	val := attr.Value.Resolve()
	if val.Kind() == slog.KindGroup {
		nested := textHandler{w: h.w, level: h.level, attrs: h.attrs, group: h.group}
		if nested.group == "" {
			nested.group = attr.Key
		} else {
			nested.group = nested.group + "." + attr.Key
		}
		for _, ga := range val.Group() {
			nested.writeAttr(b, ga)
		}
		return
	}
	key := attr.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(formatValue(val))
}

func formatValue(val slog.Value) string {
	switch val.Kind() {
	case slog.KindString:
		return val.String()
	case slog.KindTime:
		return val.Time().UTC().Format(time.RFC3339)
	case slog.KindDuration:
		return val.Duration().String()
	case slog.KindAny:
		if err, ok := val.Any().(error); ok && err != nil {
			return err.Error()
		}
		return fmt.Sprint(val.Any())
	default:
		return val.String()
	}
}
