package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders records for a terminal. Info and above print a
// header plus a handful of highlighted fields; debug prints every key.
type consoleHandler struct {
	state     *consoleState
	level     *slog.LevelVar
	attrs     []slog.Attr
	groups    []string
	addSource bool
}

// consoleState is shared by every handler derived through WithAttrs/WithGroup.
type consoleState struct {
	mu     sync.Mutex
	w      io.Writer
	recent map[string]map[string]string // summary key -> label -> last printed value
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{
		state:     &consoleState{w: w, recent: make(map[string]map[string]string)},
		level:     lvl,
		addSource: addSource,
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// consoleLine carries the header parts of one rendered record.
type consoleLine struct {
	ts        time.Time
	level     slog.Level
	component string
	phase     string
	pair      string
	message   string
	source    *slog.Source
}

func (h *consoleHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.Enabled(ctx, record.Level) {
		return nil
	}

	var kvs []kv
	for _, attr := range h.attrs {
		flattenAttr(&kvs, h.groups, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, h.groups, attr)
		return true
	})
	kvs = dedupeKVsByKey(kvs)

	line := consoleLine{
		ts:      record.Time,
		level:   record.Level,
		message: strings.TrimSpace(record.Message),
	}
	if line.ts.IsZero() {
		line.ts = time.Now()
	}
	if line.message == "" {
		line.message = "(no message)"
	}
	if h.addSource {
		line.source = record.Source()
	}
	for _, attr := range kvs {
		switch attr.key {
		case FieldComponent:
			line.component = attrString(attr.value)
		case FieldPhase:
			line.phase = attrString(attr.value)
		case FieldPair:
			line.pair = attrString(attr.value)
		}
	}

	var buf bytes.Buffer
	line.writeHeader(&buf)
	buf.WriteByte('\n')

	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	if record.Level < slog.LevelInfo {
		writeAllFields(&buf, kvs)
	} else {
		fields, hidden := selectInfoFields(kvs, infoAttrLimit, h.level.Level() <= slog.LevelDebug)
		if record.Level == slog.LevelInfo {
			fields = h.state.dropRepeated(infoSummaryKey(line.component, line.pair), fields)
		}
		writeInfoFields(&buf, fields, hidden)
	}
	_, err := h.state.w.Write(buf.Bytes())
	return err
}

func (l consoleLine) writeHeader(buf *bytes.Buffer) {
	buf.WriteString(formatTimestamp(l.ts))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(l.level))
	if l.component != "" {
		buf.WriteString(" [" + l.component + "]")
	}
	if subject := FormatSubject(l.phase, l.pair); subject != "" {
		buf.WriteString(" " + subject)
	}
	buf.WriteString(" – " + l.message)
	if l.source != nil {
		buf.WriteString(" [" + filepath.Base(l.source.File) + ":" + strconv.Itoa(l.source.Line) + "]")
	}
}

func writeInfoFields(buf *bytes.Buffer, fields []infoField, hidden int) {
	for _, f := range fields {
		buf.WriteString("    - " + f.label + ": " + f.value + "\n")
	}
	switch {
	case hidden == 1:
		buf.WriteString("    + 1 more field hidden\n")
	case hidden > 1:
		buf.WriteString("    + " + strconv.Itoa(hidden) + " more fields hidden\n")
	}
}

func writeAllFields(buf *bytes.Buffer, kvs []kv) {
	for _, attr := range kvs {
		buf.WriteString("    " + attr.key + ": " + formatValue(attr.value) + "\n")
	}
}

// dropRepeated removes info fields whose value was already printed for the
// same summary key. Callers hold s.mu.
func (s *consoleState) dropRepeated(key string, fields []infoField) []infoField {
	if key == "" {
		return fields
	}
	seen, ok := s.recent[key]
	if !ok {
		seen = make(map[string]string)
		s.recent[key] = seen
	}
	kept := fields[:0:0]
	for _, f := range fields {
		if prev, ok := seen[f.label]; ok && prev == f.value {
			continue
		}
		seen[f.label] = f.value
		kept = append(kept, f)
	}
	return kept
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

type kv struct {
	key   string
	value slog.Value
}

// dedupeKVsByKey keeps the first position of each key with its last value.
func dedupeKVsByKey(attrs []kv) []kv {
	index := make(map[string]int, len(attrs))
	out := attrs[:0:0]
	for _, attr := range attrs {
		if attr.key == "" {
			continue
		}
		if i, ok := index[attr.key]; ok {
			out[i].value = attr.value
			continue
		}
		index[attr.key] = len(out)
		out = append(out, attr)
	}
	return out
}

// flattenAttr appends attr to dst, expanding groups into dotted keys.
func flattenAttr(dst *[]kv, prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	value := attr.Value.Resolve()
	path := prefix
	if attr.Key != "" {
		path = append(append([]string(nil), prefix...), attr.Key)
	}
	if value.Kind() == slog.KindGroup {
		for _, member := range value.Group() {
			flattenAttr(dst, path, member)
		}
		return
	}
	*dst = append(*dst, kv{key: strings.Join(path, "."), value: value})
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
