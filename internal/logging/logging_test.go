package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gifdupes/internal/config"
	"gifdupes/internal/services"
)

func newTestConsole(level slog.Level) (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(level)
	return &buf, slog.New(newConsoleHandler(&buf, lvl, false))
}

func TestConsoleHandlerInfoLayout(t *testing.T) {
	buf, logger := newTestConsole(slog.LevelInfo)
	logger = NewComponentLogger(logger, "matcher")

	logger.Info("pair compared",
		String(FieldPhase, "escalate"),
		String(FieldPair, "a.gif <> b.gif"),
		String(FieldVerdict, "MATCH"),
		Int(FieldLevel, 2),
		String(FieldRunID, "run-1"),
	)

	out := buf.String()
	if !strings.Contains(out, "INFO [matcher] Escalate · a.gif <> b.gif – pair compared") {
		t.Fatalf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "    - Verdict: MATCH\n") || !strings.Contains(out, "    - Level: 2\n") {
		t.Fatalf("expected highlighted fields, got %q", out)
	}
	if strings.Contains(out, "run-1") {
		t.Fatalf("run_id should be hidden at info level: %q", out)
	}
	if !strings.Contains(out, "+ 1 more field hidden") {
		t.Fatalf("expected hidden field count, got %q", out)
	}
}

func TestConsoleHandlerSuppressesRepeatedInfoPerPair(t *testing.T) {
	buf, logger := newTestConsole(slog.LevelInfo)
	attrs := Args(String(FieldPair, "a <> b"), String(FieldVerdict, "NO_MATCH"))

	logger.Info("first", attrs...)
	buf.Reset()
	logger.Info("second", attrs...)

	if strings.Contains(buf.String(), "Verdict") {
		t.Fatalf("repeated value should be suppressed, got %q", buf.String())
	}
}

func TestConsoleHandlerDebugShowsAllKeys(t *testing.T) {
	buf, logger := newTestConsole(slog.LevelDebug)
	logger.Debug("frames sampled", Int("frame_index", 3), Group("metric", Float64("hamming", 1.5)))

	out := buf.String()
	if !strings.Contains(out, "DEBUG") || !strings.Contains(out, "    frame_index: 3\n") {
		t.Fatalf("unexpected debug output: %q", out)
	}
	if !strings.Contains(out, "    metric.hamming: 1.5\n") {
		t.Fatalf("expected flattened group key, got %q", out)
	}
}

func TestJSONHandlerShape(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	handler, err := newJSONHandler(&buf, lvl, false)
	if err != nil {
		t.Fatalf("newJSONHandler: %v", err)
	}
	WarnWithContext(slog.New(handler), "probe failed", "probe_failed", Error(errors.New("boom")))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record["level"] != "warn" || record["msg"] != "probe failed" {
		t.Fatalf("unexpected record: %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key: %v", record)
	}
	for _, key := range []string{FieldEventType, FieldErrorHint, FieldImpact} {
		if record[key] == nil || record[key] == "" {
			t.Fatalf("expected %s to be injected: %v", key, record)
		}
	}
}

func TestJSONHandlerWritesDurationsAsMilliseconds(t *testing.T) {
	var buf bytes.Buffer
	handler, _ := newJSONHandler(&buf, new(slog.LevelVar), false)
	slog.New(handler).Info("scan finished", Duration("elapsed", 1500*time.Millisecond))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record["elapsed_ms"] != 1500.0 {
		t.Fatalf("elapsed_ms = %v, want 1500", record["elapsed_ms"])
	}
	if _, ok := record["elapsed"]; ok {
		t.Fatalf("raw duration key should be replaced: %v", record)
	}
}

func TestTeeRespectsLevels(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	h := newTee(
		slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		nil,
		slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h).With(String(FieldComponent, "scan"))
	logger.Debug("only debug")
	logger.Info("both")

	if strings.Contains(infoBuf.String(), "only debug") {
		t.Fatal("info handler received debug record")
	}
	if !strings.Contains(infoBuf.String(), "both") || !strings.Contains(debugBuf.String(), "only debug") {
		t.Fatalf("unexpected fanout: info=%q debug=%q", infoBuf.String(), debugBuf.String())
	}
	if !strings.Contains(debugBuf.String(), `"component":"scan"`) {
		t.Fatalf("WithAttrs not propagated: %q", debugBuf.String())
	}
	if _, ok := newTee(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler for nil handlers")
	}
}

func TestWithContextAddsScanFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := services.WithRunID(context.Background(), "run-42")
	ctx = services.WithPhase(ctx, "deep")
	ctx = services.WithPair(ctx, "a <> b")

	WithContext(ctx, base).Info("hello")

	for _, want := range []string{`"run_id":"run-42"`, `"phase":"deep"`, `"pair":"a <> b"`} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("expected %s in %q", want, buf.String())
		}
	}
	if WithContext(context.Background(), base) != base {
		t.Fatal("empty context should return the same logger")
	}
}

func TestErrorCodeUsesFailureReason(t *testing.T) {
	err := services.Wrap(services.ErrTimeout, "matcher", "deep", "frame extraction", nil)
	if got := ErrorCode(err).Value.String(); got != "timeout" {
		t.Fatalf("ErrorCode = %q, want timeout", got)
	}
}

func TestProgressSampler(t *testing.T) {
	s := NewProgressSampler(25)
	steps := []struct {
		percent float64
		phase   string
		want    bool
	}{
		{0, "fingerprint", true},
		{10, "fingerprint", false},
		{26, "fingerprint", true},
		{49, "fingerprint", false},
		{100, "fingerprint", true},
		{0, "escalate", true},
		{-1, "escalate", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.phase); got != step.want {
			t.Fatalf("step %d: ShouldLog(%v, %q) = %v, want %v", i, step.percent, step.phase, got, step.want)
		}
	}
	var nilSampler *ProgressSampler
	if !nilSampler.ShouldLog(1, "") {
		t.Fatal("nil sampler should always log")
	}
	if Percent(1, 0) != -1 || Percent(1, 4) != 25 {
		t.Fatal("unexpected Percent results")
	}
}

func TestPruneRunLogs(t *testing.T) {
	dir := t.TempDir()
	old := RunLogPath(dir, time.Now().AddDate(0, 0, -40))
	active := RunLogPath(dir, time.Now().AddDate(0, 0, -50).Add(time.Second))
	fresh := RunLogPath(dir, time.Now())
	other := filepath.Join(dir, "notes.txt")
	stale := time.Now().AddDate(0, 0, -45)
	for _, path := range []string{old, active, fresh, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if path != fresh {
			if err := os.Chtimes(path, stale, stale); err != nil {
				t.Fatal(err)
			}
		}
	}

	if removed := PruneRunLogs(NewNop(), dir, 30, active); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, path := range []string{active, fresh, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
	if PruneRunLogs(NewNop(), dir, 0, "") != 0 {
		t.Fatal("retention 0 must not prune")
	}
}

func TestNewFromConfigWritesRunLog(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.File = true
	cfg.Logging.Level = "error"

	logger, path, err := NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if filepath.Dir(path) != cfg.Paths.LogDir {
		t.Fatalf("log path %q not under %q", path, cfg.Paths.LogDir)
	}
	logger.Error("cache unavailable", String(FieldEventType, "cache_unavailable"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"event_type":"cache_unavailable"`) {
		t.Fatalf("expected JSON record in run log, got %q", data)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatBytes(1536); got != "1.5 KiB" {
		t.Fatalf("formatBytes = %q", got)
	}
	if got := formatBytes(12); got != "12 B" {
		t.Fatalf("formatBytes = %q", got)
	}
	if got := FormatSubject("deep", ""); got != "Deep" {
		t.Fatalf("FormatSubject = %q", got)
	}
	if got := titleizeKey("files_seen"); got != "Files Seen" {
		t.Fatalf("titleizeKey = %q", got)
	}
}
