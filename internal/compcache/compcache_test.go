package compcache_test

import (
	"context"
	"errors"
	"os"
	"reflect"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"gifdupes/internal/compcache"
	"gifdupes/internal/dupe"
	"gifdupes/internal/imagehash"
	"gifdupes/internal/media"
	"gifdupes/internal/services"
)

func openStore(t *testing.T, path string, opts compcache.Options) *compcache.Store {
	t.Helper()
	if opts.Generation == "" {
		opts.Generation = "gen-1"
	}
	if opts.LockTimeout == 0 {
		opts.LockTimeout = 200 * time.Millisecond
	}
	store, err := compcache.Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleKey(path string) dupe.FileKey {
	return dupe.FileKey{Path: path, Size: 1234, ModTime: time.Unix(1700000000, 123456789)}
}

func sampleFingerprint() dupe.Fingerprint {
	return dupe.Fingerprint{
		ExactDigest:    strings.Repeat("ab", 32),
		StructuralHash: []imagehash.DHash{0x0123456789abcdef, 0xfedcba9876543210},
		ColorProfile:   sampleHistogram(),
		Metadata:       media.Metadata{FrameCount: 120, DurationMs: 6000, FPS: 20, Width: 320, Height: 240},
	}
}

func sampleResult(a, b dupe.FileKey) dupe.ComparisonResult {
	return dupe.ComparisonResult{
		Pair:         dupe.NewPairKey(a.Path, b.Path),
		KeyA:         a,
		KeyB:         b,
		LevelReached: dupe.LevelContent,
		Verdict:      dupe.NoMatch,
		Confidence:   90,
		Metrics:      dupe.Metrics{"frame_diff": 14},
		ComputedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func sampleHistogram() imagehash.Histogram {
	h := make(imagehash.Histogram, imagehash.Buckets)
	h[3] = 0.5
	h[4000] = 0.5
	return h
}

func TestFingerprintRoundTripAndStaleness(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	store := openStore(t, path, compcache.Options{})
	key := sampleKey("/media/a.gif")
	fp := sampleFingerprint()

	if err := store.PutFingerprint(key, fp); err != nil {
		t.Fatalf("PutFingerprint: %v", err)
	}
	got, ok := store.GetFingerprint(key)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if !reflect.DeepEqual(got, fp) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, fp)
	}

	resized := key
	resized.Size++
	if _, ok := store.GetFingerprint(resized); ok {
		t.Fatal("expected miss after size change")
	}
	if _, ok := store.GetFingerprint(key); ok {
		t.Fatal("stale entry should have been dropped on read")
	}

	if err := store.PutFingerprint(key, fp); err != nil {
		t.Fatal(err)
	}
	touched := key
	touched.ModTime = key.ModTime.Add(time.Nanosecond)
	if _, ok := store.GetFingerprint(touched); ok {
		t.Fatal("expected miss after mtime change")
	}
}

func TestComparisonValidityIgnoresArgumentOrder(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "cache.json"), compcache.Options{})
	a, b := sampleKey("/media/a.gif"), sampleKey("/media/b.gif")
	result := sampleResult(a, b)
	if err := store.PutComparison(result); err != nil {
		t.Fatalf("PutComparison: %v", err)
	}

	got, ok := store.GetComparison(result.Pair, b, a)
	if !ok {
		t.Fatal("expected hit with swapped keys")
	}
	if got.Verdict != dupe.NoMatch || got.LevelReached != dupe.LevelContent || got.Metrics["frame_diff"] != 14 {
		t.Fatalf("unexpected result %+v", got)
	}
	got.Metrics["frame_diff"] = 0
	again, _ := store.GetComparison(result.Pair, a, b)
	if again.Metrics["frame_diff"] != 14 {
		t.Fatal("returned result must be a copy")
	}

	changed := b
	changed.Size = 1
	if _, ok := store.GetComparison(result.Pair, a, changed); ok {
		t.Fatal("expected miss once either file changed")
	}
}

func TestPutRejectsInvalidEntries(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "cache.json"), compcache.Options{})
	if err := store.PutFingerprint(sampleKey("/x.gif"), dupe.Fingerprint{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	bad := sampleResult(sampleKey("/a"), sampleKey("/b"))
	bad.Verdict = "MAYBE"
	if err := store.PutComparison(bad); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	a, b := sampleKey("/media/a.gif"), sampleKey("/media/b.gif")

	store, err := compcache.Open(path, compcache.Options{Generation: "gen-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutFingerprint(a, sampleFingerprint()); err != nil {
		t.Fatal(err)
	}
	if err := store.PutComparison(sampleResult(a, b)); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	reopened := openStore(t, path, compcache.Options{Generation: "gen-1"})
	fp, ok := reopened.GetFingerprint(a)
	if !ok {
		t.Fatal("expected fingerprint after reopen")
	}
	want := sampleFingerprint()
	if fp.ExactDigest != want.ExactDigest || !reflect.DeepEqual(fp.StructuralHash, want.StructuralHash) ||
		!reflect.DeepEqual(fp.ColorProfile, want.ColorProfile) || fp.Metadata != want.Metadata {
		t.Fatalf("fingerprint changed across reopen: %+v", fp)
	}
	if _, ok := reopened.GetComparison(dupe.NewPairKey(a.Path, b.Path), a, b); !ok {
		t.Fatal("expected comparison after reopen")
	}
	if reopened.Stats().Rebuilt {
		t.Fatal("clean reopen must not report a rebuild")
	}
}

func TestGenerationChangeDropsComparisonsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	a, b := sampleKey("/media/a.gif"), sampleKey("/media/b.gif")

	store, err := compcache.Open(path, compcache.Options{Generation: "gen-1"})
	if err != nil {
		t.Fatal(err)
	}
	_ = store.PutFingerprint(a, sampleFingerprint())
	_ = store.PutComparison(sampleResult(a, b))
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openStore(t, path, compcache.Options{Generation: "gen-2"})
	if _, ok := reopened.GetFingerprint(a); !ok {
		t.Fatal("fingerprints must survive a generation change")
	}
	if _, ok := reopened.GetComparison(dupe.NewPairKey(a.Path, b.Path), a, b); ok {
		t.Fatal("comparisons from another generation must be discarded")
	}
}

func TestCorruptStoreIsBackedUpAndRebuilt(t *testing.T) {
	cases := map[string]func(t *testing.T, path string){
		"truncated": func(t *testing.T, path string) {
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, data[:len(data)/2], 0o644); err != nil {
				t.Fatal(err)
			}
		},
		"checksum": func(t *testing.T, path string) {
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			tampered := strings.Replace(string(data), `"confidence":90`, `"confidence":91`, 1)
			if tampered == string(data) {
				t.Fatal("tamper target not found")
			}
			if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
				t.Fatal(err)
			}
		},
		"future version": func(t *testing.T, path string) {
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			bumped := strings.Replace(string(data), `"schema_version":2`, `"schema_version":3`, 1)
			if err := os.WriteFile(path, []byte(bumped), 0o644); err != nil {
				t.Fatal(err)
			}
		},
		"garbage": func(t *testing.T, path string) {
			if err := os.WriteFile(path, []byte("not a cache"), 0o644); err != nil {
				t.Fatal(err)
			}
		},
	}

	for name, damage := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "cache.json")
			a, b := sampleKey("/media/a.gif"), sampleKey("/media/b.gif")
			store, err := compcache.Open(path, compcache.Options{Generation: "gen-1"})
			if err != nil {
				t.Fatal(err)
			}
			_ = store.PutFingerprint(a, sampleFingerprint())
			_ = store.PutComparison(sampleResult(a, b))
			if err := store.Close(); err != nil {
				t.Fatal(err)
			}
			damage(t, path)

			reopened := openStore(t, path, compcache.Options{Generation: "gen-1"})
			stats := reopened.Stats()
			if !stats.Rebuilt || stats.BackupPath == "" {
				t.Fatalf("expected rebuild with backup, got %+v", stats)
			}
			if stats.Fingerprints != 0 || stats.Comparisons != 0 {
				t.Fatalf("rebuilt store must be empty, got %+v", stats)
			}
			if _, err := os.Stat(stats.BackupPath); err != nil {
				t.Fatalf("backup missing: %v", err)
			}
			if !strings.HasPrefix(filepath.Base(stats.BackupPath), "cache.json.corrupt-") {
				t.Fatalf("unexpected backup name %s", stats.BackupPath)
			}
			if _, ok := reopened.GetFingerprint(a); ok {
				t.Fatal("expected cold cache after rebuild")
			}
			if err := reopened.PutFingerprint(a, sampleFingerprint()); err != nil {
				t.Fatalf("rebuilt store must accept writes: %v", err)
			}
		})
	}
}

func TestRebuildWritesValidEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	store := openStore(t, path, compcache.Options{})
	_ = store.PutFingerprint(sampleKey("/a.gif"), sampleFingerprint())
	if err := store.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if stats := store.Stats(); stats.Fingerprints != 0 || !stats.Rebuilt {
		t.Fatalf("unexpected stats %+v", stats)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"schema_version":2`) {
		t.Fatalf("expected versioned envelope, got %s", data)
	}
}

func TestLegacyStoreMigratesFingerprints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	legacy := strings.Join([]string{
		"# gifdupes cache v1",
		"fp|/media/a.gif|1234|1700000000|" + strings.Repeat("cd", 32) + "|0123456789abcdef,fedcba9876543210|120|6000|20|320|240",
		"cmp|/media/a.gif|/media/b.gif|3|NO_MATCH|90",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	store := openStore(t, path, compcache.Options{})
	stats := store.Stats()
	if !stats.Migrated || stats.Rebuilt {
		t.Fatalf("expected migration without rebuild, got %+v", stats)
	}
	if stats.Comparisons != 0 {
		t.Fatalf("legacy comparisons must be dropped, got %d", stats.Comparisons)
	}
	key := dupe.FileKey{Path: "/media/a.gif", Size: 1234, ModTime: time.Unix(1700000000, 0)}
	fp, ok := store.GetFingerprint(key)
	if !ok {
		t.Fatal("expected migrated fingerprint")
	}
	if len(fp.StructuralHash) != 2 || fp.Metadata.FrameCount != 120 || fp.Metadata.Width != 320 {
		t.Fatalf("unexpected migrated fingerprint %+v", fp)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "{") {
		t.Fatal("migration must rewrite the store in the current format")
	}
}

func TestLegacyKeysMatchSubSecondModTimes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	legacy := "# gifdupes cache v1\n" +
		"fp|/media/a.gif|1234|1700000000|" + strings.Repeat("cd", 32) + "|0123456789abcdef|120|6000|20|320|240\n"
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := compcache.Open(path, compcache.Options{Generation: "gen-1"})
	if err != nil {
		t.Fatal(err)
	}
	onDisk := dupe.FileKey{Path: "/media/a.gif", Size: 1234, ModTime: time.Unix(1700000000, 123456789)}
	if _, ok := store.GetFingerprint(onDisk); !ok {
		t.Fatal("legacy entry should match a sub-second modification time in the same second")
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openStore(t, path, compcache.Options{Generation: "gen-1"})
	if _, ok := reopened.GetFingerprint(onDisk); !ok {
		t.Fatal("adopted full-precision key should still match")
	}
	touched := onDisk
	touched.ModTime = time.Unix(1700000000, 987654321)
	if _, ok := reopened.GetFingerprint(touched); ok {
		t.Fatal("after adoption the entry must compare at full precision")
	}
}

func TestSecondOpenFailsWhileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	_ = openStore(t, path, compcache.Options{})

	_, err := compcache.Open(path, compcache.Options{LockTimeout: 100 * time.Millisecond})
	if !errors.Is(err, services.ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
	if !services.IsRunFatal(err) {
		t.Fatal("lock failure must be run-fatal")
	}
}

func TestFlushEveryWritesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	store := openStore(t, path, compcache.Options{FlushEvery: 2})
	_ = store.PutFingerprint(sampleKey("/a.gif"), sampleFingerprint())
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("store should not be written before flush_every puts, stat err=%v", err)
	}
	_ = store.PutFingerprint(sampleKey("/b.gif"), sampleFingerprint())
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected snapshot after flush_every puts: %v", err)
	}
}

func TestPruneRemovesVanishedAndExpired(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/media/a.gif", []byte("a"), 0o644)
	_ = afero.WriteFile(fs, "/media/old.gif", []byte("o"), 0o644)

	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	clock := now.AddDate(0, 0, -100)
	store := openStore(t, filepath.Join(t.TempDir(), "cache.json"), compcache.Options{
		Fs:  fs,
		Now: func() time.Time { return clock },
	})
	_ = store.PutFingerprint(sampleKey("/media/old.gif"), sampleFingerprint())
	clock = now
	_ = store.PutFingerprint(sampleKey("/media/a.gif"), sampleFingerprint())
	_ = store.PutFingerprint(sampleKey("/media/gone.gif"), sampleFingerprint())
	gone := sampleResult(sampleKey("/media/a.gif"), sampleKey("/media/gone.gif"))
	gone.ComputedAt = now
	_ = store.PutComparison(gone)

	if store.PruneDue(24 * time.Hour) != true {
		t.Fatal("never-pruned store should be due")
	}
	result, err := store.Prune(context.Background(), 90*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if result.Fingerprints != 2 || result.Comparisons != 1 {
		t.Fatalf("unexpected prune result %+v", result)
	}
	if _, ok := store.GetFingerprint(sampleKey("/media/a.gif")); !ok {
		t.Fatal("live recent entry must survive")
	}
	if store.PruneDue(24 * time.Hour) {
		t.Fatal("store should not be due right after pruning")
	}
}

func TestConcurrentPutsAndGets(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "cache.json"), compcache.Options{FlushEvery: 5})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				a := sampleKey(filepath.Join("/media", string(rune('a'+i))+".gif"))
				b := sampleKey(filepath.Join("/media", string(rune('a'+j%8))+"x.gif"))
				if err := store.PutComparison(sampleResult(a, b)); err != nil {
					t.Errorf("PutComparison: %v", err)
					return
				}
				store.GetComparison(dupe.NewPairKey(a.Path, b.Path), a, b)
			}
		}(i)
	}
	wg.Wait()
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := store.Stats().Comparisons; got != 64 {
		t.Fatalf("expected 64 distinct pairs, got %d", got)
	}
}
