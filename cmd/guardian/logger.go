// ABOUTME: Logger construction for coven-guardian commands
// ABOUTME: JSON output for machines, a colorized line format for terminals

package main

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/coven-guardian/internal/config"
)

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger builds the process logger. The mcp command passes stderr
// because stdout carries the protocol stream.
func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{
			mu:    &sync.Mutex{},
			out:   w,
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler renders one line per record: time, level, the [component]
// tag every guardian package attaches, the message, then key=value pairs.
// Derived handlers share the parent's mutex and writer and carry their
// attrs pre-rendered.
type colorHandler struct {
	mu        *sync.Mutex
	out       io.Writer
	level     slog.Level
	component string
	attrs     string
	groups    []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	if h.component != "" {
		buf.WriteString(color.BlueString("[" + h.component + "] "))
	}
	buf.WriteString(r.Message)
	buf.WriteString(h.attrs)

	prefix := h.prefix()
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, prefix, a)
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *colorHandler) prefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

// writeAttr flattens group values into dotted keys and quotes values that
// would otherwise be ambiguous on one line.
func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(buf, inner, ga)
		}
		return
	}

	val := a.Value.String()
	if val == "" || strings.ContainsAny(val, " \t\n\"=") {
		val = strconv.Quote(val)
	}
	buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	buf.WriteString(val)
}

func (h *colorHandler) clone() *colorHandler {
	return &colorHandler{
		mu:        h.mu,
		out:       h.out,
		level:     h.level,
		component: h.component,
		attrs:     h.attrs,
		groups:    h.groups,
	}
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	prefix := h.prefix()

	var buf strings.Builder
	buf.WriteString(h.attrs)
	for _, a := range attrs {
		if a.Key == "component" && prefix == "" {
			nh.component = a.Value.String()
			continue
		}
		writeAttr(&buf, prefix, a)
	}
	nh.attrs = buf.String()
	return nh
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := h.clone()
	nh.groups = append(slices.Clone(h.groups), name)
	return nh
}
