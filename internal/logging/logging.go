package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Format selects the handler used when constructing a logger.
type Format string

const (
	// FormatText renders one terse line per record for terminals and CI logs.
	FormatText Format = "text"
	// FormatJSON renders records as JSON objects.
	FormatJSON Format = "json"
)

// ParseFormat accepts text or json.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format %q", value)
	}
}

// ParseLevel accepts debug, info, warning and error.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

// New constructs a logger writing to w. A nil level means slog.LevelInfo.
func New(format Format, w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: writer must not be nil")
	}
	if level == nil {
		level = slog.LevelInfo
	}

	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&textHandler{out: &lockedWriter{w: w}, level: level})
}

// Ensure returns logger, or the process default if it is nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) WriteString(s string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.w, s)
	return err
}

// textHandler writes "LEVEL 15:04:05 [component] message key=value".
type textHandler struct {
	out    *lockedWriter
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder

	timestamp := record.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	fmt.Fprintf(&b, "%-5s %s ", levelLabel(record.Level), timestamp.Format("15:04:05"))

	// h.attrs are stored qualified, record attributes still need h.groups.
	var stored, recorded []slog.Attr
	component := ""
	for _, attr := range h.attrs {
		if attr.Key == "component" {
			component = attr.Value.Resolve().String()
			continue
		}
		stored = append(stored, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "component" && len(h.groups) == 0 {
			component = attr.Value.Resolve().String()
			return true
		}
		recorded = append(recorded, attr)
		return true
	})

	if component != "" {
		b.WriteString("[" + component + "] ")
	}
	b.WriteString(record.Message)
	for _, attr := range stored {
		appendAttr(&b, nil, attr)
	}
	for _, attr := range recorded {
		appendAttr(&b, h.groups, attr)
	}
	b.WriteByte('\n')

	return h.out.WriteString(b.String())
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	// Attributes added inside a group are stored already qualified.
	qualified := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		if len(h.groups) > 0 {
			attr = slog.Group(strings.Join(h.groups, "."), attr)
		}
		qualified = append(qualified, attr)
	}
	return &textHandler{
		out:    h.out,
		level:  h.level,
		attrs:  append(append([]slog.Attr(nil), h.attrs...), qualified...),
		groups: h.groups,
	}
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &textHandler{
		out:    h.out,
		level:  h.level,
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func appendAttr(b *strings.Builder, groups []string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if value.Kind() == slog.KindGroup {
		nested := append(append([]string(nil), groups...), attr.Key)
		if attr.Key == "" {
			nested = groups
		}
		for _, inner := range value.Group() {
			appendAttr(b, nested, inner)
		}
		return
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(formatValue(value))
}

func formatValue(value slog.Value) string {
	var s string
	switch value.Kind() {
	case slog.KindString:
		s = value.String()
	case slog.KindFloat64:
		s = strconv.FormatFloat(value.Float64(), 'f', -1, 64)
	case slog.KindTime:
		s = value.Time().Format(time.RFC3339)
	case slog.KindAny:
		switch v := value.Any().(type) {
		case error:
			s = v.Error()
		case []string:
			s = strings.Join(v, ",")
		default:
			s = fmt.Sprint(v)
		}
	default:
		s = value.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
