package compcache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"gifdupes/internal/dupe"
	"gifdupes/internal/fileutil"
	"gifdupes/internal/logging"
	"gifdupes/internal/services"
)

const (
	stripeCount       = 64
	lockRetryInterval = 50 * time.Millisecond
	storePerm         = 0o644
)

// Options configures a Store.
type Options struct {
	// Generation identifies the matching configuration; comparisons stored
	// under another generation are discarded on load.
	Generation string
	// FlushEvery writes the snapshot after this many puts. Zero flushes
	// only on Flush and Close.
	FlushEvery int
	// LockTimeout bounds how long Open waits for the process lock.
	LockTimeout time.Duration
	// Fs is consulted by Prune to detect vanished files.
	Fs     afero.Fs
	Logger *slog.Logger
	Now    func() time.Time
}

// Stats summarizes store state.
type Stats struct {
	Path          string    `json:"path"`
	SchemaVersion int       `json:"schema_version"`
	Generation    string    `json:"generation"`
	Fingerprints  int       `json:"fingerprints"`
	Comparisons   int       `json:"comparisons"`
	SizeBytes     int64     `json:"size_bytes"`
	LastPrunedAt  time.Time `json:"last_pruned_at"`
	Rebuilt       bool      `json:"rebuilt"`
	RebuildReason string    `json:"rebuild_reason,omitempty"`
	BackupPath    string    `json:"backup_path,omitempty"`
	Migrated      bool      `json:"migrated"`
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
}

// PruneResult counts entries removed by Prune.
type PruneResult struct {
	Fingerprints int `json:"fingerprints"`
	Comparisons  int `json:"comparisons"`
}

// Store is the comparison cache. It is safe for concurrent use.
type Store struct {
	path   string
	opts   Options
	logger *slog.Logger
	lock   *flock.Flock

	mu           sync.RWMutex
	fingerprints map[string]FingerprintEntry
	comparisons  map[dupe.PairKey]dupe.ComparisonResult
	lastPrunedAt time.Time
	pending      int
	closed       bool

	stripes [stripeCount]sync.Mutex
	flushMu sync.Mutex

	rebuilt       bool
	rebuildReason string
	backupPath    string
	migrated      bool

	hits   atomic.Int64
	misses atomic.Int64
}

// Open locks and loads the store at path, creating it if needed. A corrupt
// or unsupported file is backed up and replaced by an empty store. Lock
// and write failures return services.ErrCacheUnavailable.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, services.Wrap(services.ErrConfiguration, "compcache", "open", "cache path is empty", nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrCacheUnavailable, "compcache", "open", "create cache directory", err)
	}

	s := &Store{
		path:         path,
		opts:         opts,
		logger:       logging.NewComponentLogger(opts.Logger, "compcache"),
		lock:         flock.New(path + ".lock"),
		fingerprints: make(map[string]FingerprintEntry),
		comparisons:  make(map[dupe.PairKey]dupe.ComparisonResult),
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.LockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil || !locked {
		if err == nil {
			err = errors.New("lock held by another process")
		}
		return nil, services.Wrap(services.ErrCacheUnavailable, "compcache", "lock",
			fmt.Sprintf("acquire %s within %s", s.lock.Path(), opts.LockTimeout), err)
	}

	if err := s.load(); err != nil {
		_ = s.lock.Unlock()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("comparison cache absent; starting empty", logging.String("cache_path", s.path))
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrCacheUnavailable, "compcache", "load", "read store", err)
	}

	snap, err := decode(data)
	if err != nil {
		return s.recover(err)
	}

	s.fingerprints = snap.payload.Fingerprints
	s.lastPrunedAt = snap.lastPrunedAt

	switch {
	case snap.version == legacyVersion:
		now := s.opts.Now()
		for path, entry := range s.fingerprints {
			entry.StoredAt = now
			s.fingerprints[path] = entry
		}
		s.migrated = true
		s.logger.Info("comparison cache migrated",
			logging.String(logging.FieldEventType, "cache_migrated"),
			logging.Int("from_version", legacyVersion),
			logging.Int("to_version", SchemaVersion),
			logging.Int("cache_fingerprints", len(s.fingerprints)),
		)
		return s.flushLocked()
	case snap.generation != s.opts.Generation:
		s.logger.Info("comparison cache generation changed; dropping pair results",
			logging.String(logging.FieldEventType, "cache_generation_changed"),
			logging.String("generation", s.opts.Generation),
			logging.String("previous_generation", snap.generation),
			logging.Int("dropped", len(snap.payload.Comparisons)),
		)
		return s.flushLocked()
	default:
		s.comparisons = snap.payload.Comparisons
	}

	s.logger.Debug("comparison cache loaded",
		logging.String("cache_path", s.path),
		logging.Int("cache_fingerprints", len(s.fingerprints)),
		logging.Int("cache_entries", len(s.comparisons)),
	)
	return nil
}

// recover backs up an invalid store file and writes an empty one.
func (s *Store) recover(cause error) error {
	backup := fmt.Sprintf("%s.corrupt-%s", s.path, s.opts.Now().UTC().Format("20060102T150405.000000000"))
	if err := fileutil.MoveAside(s.path, backup); err != nil {
		return services.Wrap(services.ErrCacheUnavailable, "compcache", "backup", "move corrupt store aside", err)
	}
	corruption := services.Wrap(services.ErrCacheCorruption, "compcache", "load", "validate store", cause)
	logging.WarnWithContext(s.logger, "comparison cache invalid; rebuilt empty", "cache_rebuilt",
		logging.Error(corruption),
		logging.ErrorCode(corruption),
		logging.String("backup_path", backup),
		logging.String(logging.FieldErrorHint, "inspect the backup if this repeats"),
		logging.String(logging.FieldImpact, "scan starts with a cold cache"),
	)
	s.backupPath = backup
	s.markRebuilt(cause.Error())
	return s.flushLocked()
}

func (s *Store) markRebuilt(reason string) {
	s.rebuilt = true
	s.rebuildReason = reason
	s.fingerprints = make(map[string]FingerprintEntry)
	s.comparisons = make(map[dupe.PairKey]dupe.ComparisonResult)
}

// Path returns the store file location.
func (s *Store) Path() string {
	return s.path
}

// GetFingerprint returns the cached fingerprint for key. An entry recorded
// for a different size or modification time is dropped and reported as a
// miss. A hit on a second-precision entry adopts key so later lookups
// compare at full precision.
func (s *Store) GetFingerprint(key dupe.FileKey) (dupe.Fingerprint, bool) {
	s.mu.RLock()
	entry, ok := s.fingerprints[key.Path]
	s.mu.RUnlock()
	if !ok {
		s.misses.Add(1)
		return dupe.Fingerprint{}, false
	}
	if !entry.Key.Matches(key) {
		s.mu.Lock()
		if current, ok := s.fingerprints[key.Path]; ok && !current.Key.Matches(key) {
			delete(s.fingerprints, key.Path)
			s.pending++
		}
		s.mu.Unlock()
		s.misses.Add(1)
		return dupe.Fingerprint{}, false
	}
	if entry.Key.CoarseMTime && !key.CoarseMTime {
		s.mu.Lock()
		if current, ok := s.fingerprints[key.Path]; ok && current.Key.CoarseMTime && current.Key.Matches(key) {
			current.Key = key
			s.fingerprints[key.Path] = current
			s.pending++
		}
		s.mu.Unlock()
	}
	s.hits.Add(1)
	return entry.Fingerprint, true
}

// PutFingerprint records fp for key.
func (s *Store) PutFingerprint(key dupe.FileKey, fp dupe.Fingerprint) error {
	if key.Path == "" || fp.ExactDigest == "" {
		return services.Wrap(services.ErrValidation, "compcache", "put fingerprint", "path and digest are required", nil)
	}
	stripe := s.stripe(key.Path)
	stripe.Lock()
	defer stripe.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errStoreClosed
	}
	s.fingerprints[key.Path] = FingerprintEntry{Key: key, Fingerprint: fp, StoredAt: s.opts.Now()}
	s.pending++
	due := s.flushDue()
	s.mu.Unlock()

	if due {
		return s.Flush()
	}
	return nil
}

// GetComparison returns the cached result for pair when it was computed
// against keyA and keyB (in either order). Stale entries are dropped.
func (s *Store) GetComparison(pair dupe.PairKey, keyA, keyB dupe.FileKey) (dupe.ComparisonResult, bool) {
	s.mu.RLock()
	result, ok := s.comparisons[pair]
	s.mu.RUnlock()
	if !ok {
		s.misses.Add(1)
		return dupe.ComparisonResult{}, false
	}
	if !result.ValidFor(keyA, keyB) {
		s.mu.Lock()
		if current, ok := s.comparisons[pair]; ok && !current.ValidFor(keyA, keyB) {
			delete(s.comparisons, pair)
			s.pending++
		}
		s.mu.Unlock()
		s.misses.Add(1)
		return dupe.ComparisonResult{}, false
	}
	s.hits.Add(1)
	return result.Clone(), true
}

// PutComparison records a final pair result. Writes for the same pair are
// serialized.
func (s *Store) PutComparison(result dupe.ComparisonResult) error {
	a, b := result.Pair.Paths()
	switch {
	case a == "" || b == "":
		return services.Wrap(services.ErrValidation, "compcache", "put comparison", "pair key is malformed", nil)
	case !result.LevelReached.Valid() || !result.Verdict.Valid():
		return services.Wrap(services.ErrValidation, "compcache", "put comparison", "invalid level or verdict", nil)
	}
	stripe := s.stripe(string(result.Pair))
	stripe.Lock()
	defer stripe.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errStoreClosed
	}
	s.comparisons[result.Pair] = result.Clone()
	s.pending++
	due := s.flushDue()
	s.mu.Unlock()

	if due {
		return s.Flush()
	}
	return nil
}

var errStoreClosed = errors.New("compcache: store closed")

func (s *Store) flushDue() bool {
	return s.opts.FlushEvery > 0 && s.pending >= s.opts.FlushEvery
}

func (s *Store) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%stripeCount]
}

// Flush writes the current snapshot if anything changed since the last
// write.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	if s.pending == 0 {
		s.mu.RUnlock()
		return nil
	}
	data, written, err := s.encodeLocked()
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := s.write(data); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending -= written
	if s.pending < 0 {
		s.pending = 0
	}
	s.mu.Unlock()
	return nil
}

// flushLocked writes unconditionally. Callers hold exclusive access (during
// Open, or with mu held for writing).
func (s *Store) flushLocked() error {
	data, _, err := s.encodeLocked()
	if err != nil {
		return err
	}
	if err := s.write(data); err != nil {
		return err
	}
	s.pending = 0
	return nil
}

func (s *Store) encodeLocked() ([]byte, int, error) {
	snap := snapshot{
		generation:   s.opts.Generation,
		writtenAt:    s.opts.Now(),
		lastPrunedAt: s.lastPrunedAt,
		payload: payload{
			Fingerprints: s.fingerprints,
			Comparisons:  s.comparisons,
		},
	}
	data, err := encode(snap)
	if err != nil {
		return nil, 0, services.Wrap(services.ErrCacheUnavailable, "compcache", "flush", "encode snapshot", err)
	}
	return data, s.pending, nil
}

func (s *Store) write(data []byte) error {
	validate := func(b []byte) error {
		_, err := decode(b)
		return err
	}
	if err := fileutil.WriteFileAtomic(s.path, data, storePerm, validate); err != nil {
		return services.Wrap(services.ErrCacheUnavailable, "compcache", "flush", "write snapshot", err)
	}
	return nil
}

// Rebuild discards every entry and writes a valid empty store.
func (s *Store) Rebuild() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markRebuilt("rebuild requested")
	s.backupPath = ""
	s.logger.Info("comparison cache rebuilt",
		logging.String(logging.FieldEventType, "cache_rebuilt"),
		logging.String("reason", s.rebuildReason),
	)
	return s.flushLocked()
}

// PruneDue reports whether interval has passed since the last prune.
func (s *Store) PruneDue(interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Now().Sub(s.lastPrunedAt) >= interval
}

// Prune removes entries for files that no longer exist and entries older
// than maxAge (zero disables the age check), then writes the store.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (PruneResult, error) {
	s.mu.RLock()
	paths := make(map[string]struct{}, len(s.fingerprints))
	for path := range s.fingerprints {
		paths[path] = struct{}{}
	}
	for key := range s.comparisons {
		a, b := key.Paths()
		paths[a] = struct{}{}
		paths[b] = struct{}{}
	}
	s.mu.RUnlock()

	vanished := make(map[string]bool, len(paths))
	for path := range paths {
		if err := ctx.Err(); err != nil {
			return PruneResult{}, err
		}
		if _, err := s.opts.Fs.Stat(path); errors.Is(err, fs.ErrNotExist) {
			vanished[path] = true
		}
	}

	now := s.opts.Now()
	expired := func(ts time.Time) bool {
		return maxAge > 0 && now.Sub(ts) > maxAge
	}

	var result PruneResult
	s.mu.Lock()
	for path, entry := range s.fingerprints {
		if vanished[path] || expired(entry.StoredAt) {
			delete(s.fingerprints, path)
			result.Fingerprints++
		}
	}
	for key, cmp := range s.comparisons {
		a, b := key.Paths()
		if vanished[a] || vanished[b] || expired(cmp.ComputedAt) {
			delete(s.comparisons, key)
			result.Comparisons++
		}
	}
	s.lastPrunedAt = now
	s.pending++
	s.mu.Unlock()

	if err := s.Flush(); err != nil {
		return result, err
	}
	s.logger.Info("comparison cache pruned",
		logging.String(logging.FieldEventType, "cache_pruned"),
		logging.Int("pruned", result.Fingerprints+result.Comparisons),
		logging.Int("pruned_fingerprints", result.Fingerprints),
		logging.Int("pruned_comparisons", result.Comparisons),
	)
	return result, nil
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	stats := Stats{
		Path:          s.path,
		SchemaVersion: SchemaVersion,
		Generation:    s.opts.Generation,
		Fingerprints:  len(s.fingerprints),
		Comparisons:   len(s.comparisons),
		LastPrunedAt:  s.lastPrunedAt,
		Rebuilt:       s.rebuilt,
		RebuildReason: s.rebuildReason,
		BackupPath:    s.backupPath,
		Migrated:      s.migrated,
	}
	s.mu.RUnlock()
	stats.Hits = s.hits.Load()
	stats.Misses = s.misses.Load()
	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats
}

// Close flushes pending changes and releases the process lock. It is safe to
// call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	flushErr := s.Flush()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	unlockErr := s.lock.Unlock()
	return errors.Join(flushErr, unlockErr)
}
