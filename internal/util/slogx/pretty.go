package slogx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Respect https://no-color.org/.
var noColor = os.Getenv("NO_COLOR") != ""

type prettyHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Level
	color bool
	attrs []slog.Attr
	group string
}

// NewPrettyHandler builds a human-oriented handler for daemon stderr logs.
// Colors are enabled only when stderr is a terminal and NO_COLOR is unset.
func NewPrettyHandler(level slog.Level) slog.Handler {
	color := isatty.IsTerminal(os.Stderr.Fd()) && !noColor
	var w io.Writer = os.Stderr
	if color {
		w = colorable.NewColorableStderr()
	}
	return &prettyHandler{
		mu:    new(sync.Mutex),
		w:     w,
		level: level,
		color: color,
	}
}

func (h *prettyHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level
}

func (h *prettyHandler) levelTag(l slog.Level) string {
	var tag, code string
	switch {
	case l >= slog.LevelError:
		tag, code = "ERROR", "31"
	case l >= slog.LevelWarn:
		tag, code = "WARN", "33"
	case l >= slog.LevelInfo:
		tag, code = "INFO", "32"
	default:
		tag, code = "DEBUG", "36"
	}
	if !h.color {
		return tag
	}
	return "\033[" + code + "m" + tag + "\033[0m"
}

func (h *prettyHandler) Handle(_ context.Context, rec slog.Record) error {
	var b strings.Builder
	b.WriteString(rec.Time.Format(time.DateTime))
	b.WriteByte(' ')
	b.WriteString(h.levelTag(rec.Level))
	b.WriteByte(' ')
	b.WriteString(rec.Message)
	writeAttr := func(a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value)
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	b.WriteByte('\n')
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &h2
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	h2 := *h
	if h2.group == "" {
		h2.group = name
	} else {
		h2.group += "." + name
	}
	return &h2
}
