package logger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ANSI color codes.
const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorBold    = "\033[1m"
	colorDim     = "\033[2m"
)

// PrettyHandler renders records as single colored lines for development
// consoles: `15:04:05 INF message key=value`. Production runs the JSON
// handler, so the output only needs to be readable while sync runs for
// several users interleave.
type PrettyHandler struct {
	opts   *slog.HandlerOptions
	writer io.Writer
	prefix string   // attrs accumulated via WithAttrs, already rendered
	groups []string // open group path, qualifies subsequent attr keys
}

// NewPrettyHandler creates a pretty handler writing to w.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &PrettyHandler{opts: opts, writer: w}
}

// Enabled reports whether the handler handles records at the given level.
func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle formats and writes the log record.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.Grow(256)

	b.WriteString(colorDim)
	b.WriteString(r.Time.Format("15:04:05"))
	b.WriteString(colorReset)
	b.WriteByte(' ')

	tag, color := formatLevel(r.Level)
	b.WriteString(color)
	b.WriteString(tag)
	b.WriteString(colorReset)
	b.WriteByte(' ')

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		b.WriteString(colorDim)
		b.WriteString(filepath.Base(frame.File))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(frame.Line))
		b.WriteString(colorReset)
		b.WriteByte(' ')
	}

	b.WriteString(colorBold)
	b.WriteString(r.Message)
	b.WriteString(colorReset)

	if h.prefix != "" || r.NumAttrs() > 0 {
		b.WriteByte(' ')
		b.WriteString(colorCyan)
		b.WriteString(h.prefix)
		first := h.prefix == ""
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "" {
				return true
			}
			if !first {
				b.WriteByte(' ')
			}
			first = false
			writeAttr(&b, h.groups, a)
			return true
		})
		b.WriteString(colorReset)
	}

	b.WriteByte('\n')

	// One Write per record keeps concurrent goroutines from
	// interleaving mid-line.
	_, err := io.WriteString(h.writer, b.String())
	return err
}

// WithAttrs pre-renders the attributes so loggers built once and used
// on every request pay the formatting cost once.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		if a.Key == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		writeAttr(&b, h.groups, a)
	}

	clone := *h
	clone.prefix = b.String()
	return &clone
}

// WithGroup qualifies the keys of subsequent attributes with the group
// name, dot-joined.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(h.groups[:len(h.groups):len(h.groups)], name)
	return &clone
}

func writeAttr(b *strings.Builder, groups []string, a slog.Attr) {
	for _, g := range groups {
		b.WriteString(g)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(formatValue(a.Value))
}

// formatLevel maps a level to its three-letter tag and color. Levels
// between the named ones take the tag below them rather than falling
// through to a default.
func formatLevel(level slog.Level) (tag, color string) {
	switch {
	case level < slog.LevelInfo:
		return "DBG", colorMagenta
	case level < slog.LevelWarn:
		return "INF", colorGreen
	case level < slog.LevelError:
		return "WRN", colorYellow
	default:
		return "ERR", colorRed
	}
}

// formatValue renders a value, quoting strings that would read
// ambiguously next to key=value pairs.
func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	default:
		s := v.String()
		if strings.ContainsAny(s, " \t\"=") {
			return strconv.Quote(s)
		}
		return s
	}
}
