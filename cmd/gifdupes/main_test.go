package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"gifdupes/internal/compcache"
	"gifdupes/internal/dupe"
	"gifdupes/internal/scan"
	"gifdupes/internal/services"
)

type cliEnv struct {
	base       string
	configPath string
	mediaDir   string
}

func setupCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", base)
	t.Setenv("NO_COLOR", "1")

	binDir := filepath.Join(base, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"ffmpeg", "ffprobe", "exiftool"} {
		if err := os.WriteFile(filepath.Join(binDir, name), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	env := &cliEnv{
		base:       base,
		configPath: filepath.Join(base, "gifdupes.toml"),
		mediaDir:   filepath.Join(base, "media"),
	}
	if err := os.MkdirAll(env.mediaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := fmt.Sprintf(`[paths]
cache_dir = %q
log_dir = %q
temp_dir = %q

[decision_log]
enabled = true
`, filepath.Join(base, "cache"), filepath.Join(base, "logs"), filepath.Join(base, "tmp"))
	if err := os.WriteFile(env.configPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigInitWritesSample(t *testing.T) {
	env := setupCLIEnv(t)
	target := filepath.Join(env.base, "nested", "config.toml")

	out, err := env.run(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("expected output to mention %s, got %q", target, out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample not written: %v", err)
	}
	if _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}
	if _, err := env.run(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	env := setupCLIEnv(t)
	out, err := env.run(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") || !strings.Contains(out, env.configPath) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfigValidateRejectsBadConfig(t *testing.T) {
	env := setupCLIEnv(t)
	if err := os.WriteFile(env.configPath, []byte("[scan]\nworkers = -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := env.run(t, "config", "validate")
	if !errors.Is(err, services.ErrConfiguration) || exitCode(err) != 2 {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestScanEmptyDirectoryJSON(t *testing.T) {
	env := setupCLIEnv(t)
	out, err := env.run(t, "scan", "--output", "json", env.mediaDir)
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	var report scan.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report.RunID == "" || report.Stats.Files != 0 || len(report.Groups) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Roots) != 1 || report.Roots[0] != env.mediaDir {
		t.Fatalf("unexpected roots %v", report.Roots)
	}
}

func TestScanYAMLOutput(t *testing.T) {
	env := setupCLIEnv(t)
	out, err := env.run(t, "scan", "-o", "yaml", env.mediaDir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !strings.HasPrefix(out, "run_id: ") || !strings.Contains(out, "stats:") {
		t.Fatalf("unexpected yaml output %q", out)
	}
}

func TestScanRequiresRoots(t *testing.T) {
	env := setupCLIEnv(t)
	_, err := env.run(t, "scan")
	if exitCode(err) != 2 {
		t.Fatalf("expected configuration exit code, got %v", err)
	}
}

func TestScanRejectsUnknownOutput(t *testing.T) {
	env := setupCLIEnv(t)
	_, err := env.run(t, "scan", "--output", "xml", env.mediaDir)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCacheStatsAndRebuild(t *testing.T) {
	env := setupCLIEnv(t)
	if _, err := env.run(t, "scan", "-o", "json", env.mediaDir); err != nil {
		t.Fatalf("scan: %v", err)
	}

	out, err := env.run(t, "cache", "stats", "--output", "json")
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	var stats compcache.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v\n%s", err, out)
	}
	if stats.Path != filepath.Join(env.base, "cache", "comparisons.json") {
		t.Fatalf("unexpected cache path %q", stats.Path)
	}

	out, err = env.run(t, "cache", "rebuild")
	if err != nil {
		t.Fatalf("cache rebuild: %v", err)
	}
	if !strings.Contains(out, "Cleared 0 fingerprints") {
		t.Fatalf("unexpected rebuild output %q", out)
	}

	out, err = env.run(t, "cache", "prune", "--max-age-days", "7")
	if err != nil {
		t.Fatalf("cache prune: %v", err)
	}
	if !strings.Contains(out, "Pruned 0 fingerprints") {
		t.Fatalf("unexpected prune output %q", out)
	}
	if _, err := env.run(t, "cache", "prune", "--max-age-days", "0"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for zero max age, got %v", err)
	}
}

func TestStatusShowsRecentRuns(t *testing.T) {
	env := setupCLIEnv(t)
	if _, err := env.run(t, "scan", "-o", "json", env.mediaDir); err != nil {
		t.Fatalf("scan: %v", err)
	}
	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"FFmpeg", "Cache directory", "Recent runs", "completed", "Ready"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderScanReport(t *testing.T) {
	color.NoColor = true
	pair := scan.PairResult{
		A: "/lib/clips/clip.gif", B: "/lib/clips/clip_recut.gif",
		Level: dupe.LevelDeep, Verdict: dupe.Match, Confidence: 96, Cached: true,
	}
	report := scan.Report{
		Groups:   []scan.Group{{Files: []string{pair.A, pair.B}, Pairs: []scan.PairResult{pair}}},
		Pairs:    []scan.PairResult{pair},
		Excluded: []dupe.Exclusion{{Path: "/lib/broken.gif", Reason: "unanalyzable"}},
		Stats:    scan.Stats{Files: 3, Excluded: 1, DuplicateGroups: 1},
	}
	var buf bytes.Buffer
	renderScanReport(&buf, report, false)
	out := buf.String()
	for _, want := range []string{"Group 1 (2 files)", "clips/clip.gif", "MATCH", "96", "cached", "unanalyzable", "1 matching pairs", "1 groups"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "All compared pairs") {
		t.Fatal("pair listing should require --all")
	}
}

func TestRenderTableAlignsAndWraps(t *testing.T) {
	long := "/library/" + strings.Repeat("nested_directory_", 5) + "clip.gif"
	tests := []struct {
		name    string
		columns []column
		rows    [][]string
		want    string
		absent  string
	}{
		{
			name:    "numbers align right",
			columns: []column{{"Status", columnText}, {"Files", columnNumber}},
			rows:    [][]string{{"completed", "7"}},
			want:    "     7 │",
		},
		{
			name:    "short rows are padded",
			columns: exclusionColumns,
			rows:    [][]string{{"/lib/a.gif"}},
			want:    "/lib/a.gif",
		},
		{
			name:    "long paths wrap",
			columns: exclusionColumns,
			rows:    [][]string{{long, "unanalyzable", ""}},
			want:    "unanalyzable",
			absent:  long,
		},
	}
	for _, tc := range tests {
		out := renderTable(tc.columns, tc.rows)
		if !strings.Contains(out, tc.want) {
			t.Fatalf("%s: missing %q:\n%s", tc.name, tc.want, out)
		}
		if tc.absent != "" && strings.Contains(out, tc.absent) {
			t.Fatalf("%s: %q should have wrapped:\n%s", tc.name, tc.absent, out)
		}
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("no columns should render nothing")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{services.Wrap(services.ErrConfiguration, "cli", "scan", "bad", nil), 2},
		{services.Wrap(services.ErrCacheUnavailable, "compcache", "open", "locked", nil), 3},
		{fmt.Errorf("scan: %w", context.Canceled), 130},
		{errors.New("boom"), 1},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestDisplayPath(t *testing.T) {
	if got := displayPath("/a/b/c.gif"); got != filepath.Join("b", "c.gif") {
		t.Fatalf("displayPath = %q", got)
	}
	if got := displayPath("c.gif"); got != "c.gif" {
		t.Fatalf("displayPath = %q", got)
	}
}
