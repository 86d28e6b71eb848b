package fingerprint_test

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gifdupes/internal/compcache"
	"gifdupes/internal/dupe"
	"gifdupes/internal/fingerprint"
	"gifdupes/internal/logging"
	"gifdupes/internal/media"
	"gifdupes/internal/services"
	"gifdupes/internal/testsupport"
)

type fixture struct {
	dir     string
	prober  *testsupport.FakeProber
	sampler *testsupport.FakeSampler
	store   *compcache.Store
	ex      *fingerprint.Extractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := compcache.Open(filepath.Join(dir, "cache", "comparisons.json"), compcache.Options{Generation: "g"})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	f := &fixture{
		dir:     dir,
		prober:  testsupport.NewFakeProber(),
		sampler: testsupport.NewFakeSampler(),
		store:   store,
	}
	f.ex = fingerprint.New(f.prober, f.sampler, store, 5, logging.NewNop())
	return f
}

func (f *fixture) record(t *testing.T, name string, seed uint64) dupe.FileRecord {
	t.Helper()
	path := filepath.Join(f.dir, "media", name)
	frames := testsupport.FrameSet(seed, 5)
	testsupport.WriteAnimatedGIF(t, path, frames, 10)
	f.prober.Set(path, media.Metadata{FrameCount: 50, DurationMs: 5000, FPS: 10, Width: 9, Height: 8})
	f.sampler.Set(path, frames)
	return statRecord(t, path)
}

func statRecord(t *testing.T, path string) dupe.FileRecord {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return dupe.FileRecord{Path: path, Size: info.Size(), ModTime: info.ModTime()}
}

func TestExtractDerivesAllSignals(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, "a.gif", 1)

	got, err := f.ex.Extract(context.Background(), rec)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !got.Analyzable || got.Partial {
		t.Fatalf("expected analyzable complete record, got %+v", got)
	}
	fp := got.Fingerprint
	if len(fp.ExactDigest) != 64 {
		t.Fatalf("expected hex sha256 digest, got %q", fp.ExactDigest)
	}
	if len(fp.StructuralHash) != 5 || len(fp.ColorProfile) == 0 {
		t.Fatalf("expected 5 hashes and a color profile, got %d/%d", len(fp.StructuralHash), len(fp.ColorProfile))
	}
	if fp.Metadata.FrameCount != 50 || !fp.Complete() {
		t.Fatalf("unexpected fingerprint %+v", fp)
	}
	if _, ok := f.store.GetFingerprint(rec.Key()); !ok {
		t.Fatal("complete fingerprint should be cached")
	}
}

func TestExtractCachesFingerprintWithUnhashableFrame(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, "fade.gif", 2)
	frames := append([]image.Image{image.NewRGBA(image.Rect(0, 0, 9, 8))}, testsupport.FrameSet(2, 4)...)
	f.sampler.Set(rec.Path, frames)

	for i := range 3 {
		got, err := f.ex.Extract(context.Background(), rec)
		if err != nil {
			t.Fatalf("Extract %d: %v", i, err)
		}
		if len(got.Fingerprint.StructuralHash) != 4 || got.Fingerprint.Sampled != 5 {
			t.Fatalf("Extract %d: hashes=%d sampled=%d", i, len(got.Fingerprint.StructuralHash), got.Fingerprint.Sampled)
		}
	}
	if calls := f.sampler.Calls(rec.Path); calls != 1 {
		t.Fatalf("sampler called %d times, want 1", calls)
	}
	if hits := f.ex.Stats().CacheHits; hits != 2 {
		t.Fatalf("cache hits = %d, want 2", hits)
	}
}

func TestExtractUsesCacheUntilFileChanges(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, "a.gif", 1)

	first, err := f.ex.Extract(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.ex.Extract(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if f.sampler.Calls(rec.Path) != 1 || f.prober.Calls(rec.Path) != 1 {
		t.Fatalf("expected one extraction, sampler=%d prober=%d", f.sampler.Calls(rec.Path), f.prober.Calls(rec.Path))
	}
	if second.Fingerprint.ExactDigest != first.Fingerprint.ExactDigest {
		t.Fatal("cached digest differs")
	}
	if stats := f.ex.Stats(); stats.CacheHits != 1 || stats.Extracted != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	later := time.Now().Add(time.Hour)
	testsupport.SetModTime(t, rec.Path, later)
	if _, err := f.ex.Extract(context.Background(), statRecord(t, rec.Path)); err != nil {
		t.Fatal(err)
	}
	if f.sampler.Calls(rec.Path) != 2 {
		t.Fatal("changed mtime must force re-extraction")
	}
}

func TestExtractShortFileCachesFewerHashes(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, "short.gif", 2)
	f.prober.Set(rec.Path, media.Metadata{FrameCount: 3, DurationMs: 300, FPS: 10, Width: 9, Height: 8})
	f.sampler.Set(rec.Path, testsupport.FrameSet(2, 3))

	if _, err := f.ex.Extract(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ex.Extract(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if f.sampler.Calls(rec.Path) != 1 {
		t.Fatalf("short file should hit the cache, sampled %d times", f.sampler.Calls(rec.Path))
	}
}

func TestExtractFailuresAreUnanalyzable(t *testing.T) {
	cases := map[string]func(f *fixture, path string){
		"zero duration": func(f *fixture, path string) {
			f.prober.Set(path, media.Metadata{FrameCount: 1, Width: 9, Height: 8})
		},
		"probe failure": func(f *fixture, path string) {
			f.prober.Fail(path, services.Wrap(services.ErrExternalTool, "ffprobe", "inspect", "exit 1", nil))
		},
		"probe timeout": func(f *fixture, path string) {
			f.prober.Fail(path, services.Wrap(services.ErrTimeout, "media", "probe", "exceeded 1s", nil))
		},
		"no frames": func(f *fixture, path string) {
			f.sampler.Set(path, nil)
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.record(t, "bad.gif", 3)
			setup(f, rec.Path)

			got, err := f.ex.Extract(context.Background(), rec)
			if !errors.Is(err, services.ErrUnanalyzable) {
				t.Fatalf("expected ErrUnanalyzable, got %v", err)
			}
			if got.Analyzable {
				t.Fatal("failed record must not be analyzable")
			}
			if _, ok := f.store.GetFingerprint(rec.Key()); ok {
				t.Fatal("failed extraction must not be cached")
			}
		})
	}
}

func TestExtractMissingFileIsUnanalyzable(t *testing.T) {
	f := newFixture(t)
	rec := dupe.FileRecord{Path: filepath.Join(f.dir, "missing.gif"), Size: 1}
	if _, err := f.ex.Extract(context.Background(), rec); !errors.Is(err, services.ErrUnanalyzable) {
		t.Fatalf("expected ErrUnanalyzable, got %v", err)
	}
}

func TestExtractDegradesWhenToolsUnavailable(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, "a.gif", 4)
	f.sampler.Fail(rec.Path, services.Wrap(services.ErrToolUnavailable, "ffmpeg", "sample", "not found", nil))

	got, err := f.ex.Extract(context.Background(), rec)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !got.Analyzable || !got.Partial {
		t.Fatalf("expected partial analyzable record, got %+v", got)
	}
	if got.Fingerprint.ExactDigest == "" || got.Fingerprint.Metadata.DurationMs != 5000 {
		t.Fatalf("partial record should keep digest and metadata, got %+v", got.Fingerprint)
	}
	if got.Fingerprint.HasStructure() {
		t.Fatal("partial record must not have frame hashes")
	}
	if _, ok := f.store.GetFingerprint(rec.Key()); ok {
		t.Fatal("partial fingerprints are never cached")
	}

	noTools := fingerprint.New(nil, nil, nil, 5, nil)
	got, err = noTools.Extract(context.Background(), rec)
	if err != nil || !got.Partial || got.Fingerprint.ExactDigest == "" {
		t.Fatalf("digest-only extraction failed: %+v, %v", got, err)
	}
	if noTools.Stats().Partial != 1 {
		t.Fatalf("unexpected stats %+v", noTools.Stats())
	}
}

func TestExtractHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, "a.gif", 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.ex.Extract(ctx, rec); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSignalsSkipsUnusableFrames(t *testing.T) {
	frames := testsupport.FrameSet(9, 2)
	frames = append(frames, nil)
	hashes, profile, err := fingerprint.Signals(frames)
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 2 || len(profile) == 0 {
		t.Fatalf("expected 2 hashes, got %d", len(hashes))
	}
	if _, _, err := fingerprint.Signals(nil); err == nil {
		t.Fatal("expected error for no frames")
	}
}
