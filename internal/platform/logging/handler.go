package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
)

// moduleColors highlights messages that start with a known module tag.
var moduleColors = map[string]string{
	"[Bootstrap]":   "\x1b[96m",
	"[Session]":     "\x1b[94m",
	"[Preferences]": "\x1b[95m",
	"[Storage]":     "\x1b[93m",
	"[Notify]":      "\x1b[92m",
	"[HTTP]":        "\x1b[35m",
	"[WebSocket]":   "\x1b[92m",
	"[Perf]":        "\x1b[91m",
}

// textHandler renders "[time] [LEVEL] message {k=v}" lines, or
// "[time] [Module] message" when the message carries a module tag.
type textHandler struct {
	writer io.Writer
	level  slog.Level
	attrs  []slog.Attr
	mu     *sync.Mutex
}

func newTextHandler(w io.Writer, level slog.Level) *textHandler {
	return &textHandler{writer: w, level: level, mu: &sync.Mutex{}}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(colorTime)
	b.WriteString("[")
	b.WriteString(r.Time.Format("2006-01-02 15:04:05.000"))
	b.WriteString("]")
	b.WriteString(colorReset)
	b.WriteString(" ")

	if color, ok := moduleColor(r.Message); ok {
		b.WriteString(color)
		b.WriteString(r.Message)
		b.WriteString(colorReset)
	} else {
		b.WriteString(levelColor(r.Level))
		b.WriteString("[")
		b.WriteString(r.Level.String())
		b.WriteString("]")
		b.WriteString(colorReset)
		b.WriteString(" ")
		b.WriteString(r.Message)
	}

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		b.WriteString(" {")
		for _, a := range h.attrs {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		}
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		})
		b.WriteString(" }")
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup is flattened; the console format has no nesting.
func (h *textHandler) WithGroup(string) slog.Handler {
	return h
}

func moduleColor(msg string) (string, bool) {
	if !strings.HasPrefix(msg, "[") {
		return "", false
	}
	end := strings.Index(msg, "]")
	if end < 0 {
		return "", false
	}
	color, ok := moduleColors[msg[:end+1]]
	return color, ok
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorError
	case level >= slog.LevelWarn:
		return colorWarn
	case level >= slog.LevelInfo:
		return colorInfo
	default:
		return colorDebug
	}
}
