package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"gifdupes/internal/dupe"
	"gifdupes/internal/fileutil"
	"gifdupes/internal/imagehash"
	"gifdupes/internal/logging"
	"gifdupes/internal/media"
	"gifdupes/internal/services"
)

// Cache is the subset of the comparison cache the extractor needs.
type Cache interface {
	GetFingerprint(key dupe.FileKey) (dupe.Fingerprint, bool)
	PutFingerprint(key dupe.FileKey, fp dupe.Fingerprint) error
}

// Stats counts extraction outcomes since the extractor was created.
type Stats struct {
	CacheHits int64
	Extracted int64
	Partial   int64
	Failed    int64
}

// Extractor computes fingerprints. It is safe for concurrent use.
type Extractor struct {
	prober  media.Prober
	sampler media.Sampler
	cache   Cache
	frames  int
	logger  *slog.Logger

	hashFile func(path string) (string, error)

	warnOnce sync.Map

	hits      atomic.Int64
	extracted atomic.Int64
	partial   atomic.Int64
	failed    atomic.Int64
}

// New builds an Extractor sampling frames frames per file. cache may be nil.
func New(prober media.Prober, sampler media.Sampler, cache Cache, frames int, logger *slog.Logger) *Extractor {
	if frames <= 0 {
		frames = 5
	}
	return &Extractor{
		prober:   prober,
		sampler:  sampler,
		cache:    cache,
		frames:   frames,
		logger:   logging.NewComponentLogger(logger, "fingerprint"),
		hashFile: fileutil.HashFile,
	}
}

// Stats returns outcome counters.
func (e *Extractor) Stats() Stats {
	return Stats{
		CacheHits: e.hits.Load(),
		Extracted: e.extracted.Load(),
		Partial:   e.partial.Load(),
		Failed:    e.failed.Load(),
	}
}

// Extract fills rec.Fingerprint. Errors wrap services.ErrUnanalyzable for
// files that cannot be fingerprinted, services.ErrCacheUnavailable when the
// cache cannot be written, or the context error on cancellation.
func (e *Extractor) Extract(ctx context.Context, rec dupe.FileRecord) (dupe.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	key := rec.Key()
	if fp, ok := e.cached(key); ok {
		e.hits.Add(1)
		rec.Fingerprint = fp
		rec.Analyzable = true
		rec.Partial = false
		return rec, nil
	}

	rec, err := e.extract(ctx, rec)
	if err != nil {
		if ctx.Err() == nil {
			e.failed.Add(1)
		}
		return rec, err
	}
	if rec.Partial {
		e.partial.Add(1)
		return rec, nil
	}
	e.extracted.Add(1)
	if e.cache != nil && rec.Fingerprint.Complete() {
		if err := e.cache.PutFingerprint(key, rec.Fingerprint); err != nil {
			if errors.Is(err, services.ErrCacheUnavailable) {
				return rec, err
			}
			e.logger.Debug("fingerprint not cached", logging.String("path", rec.Path), logging.Error(err))
		}
	}
	return rec, nil
}

// cached returns a cache hit only when it was sampled with this extractor's
// frame count. Entries that predate the sampled count must carry a hash for
// every frame that would be sampled.
func (e *Extractor) cached(key dupe.FileKey) (dupe.Fingerprint, bool) {
	if e.cache == nil {
		return dupe.Fingerprint{}, false
	}
	fp, ok := e.cache.GetFingerprint(key)
	if !ok || fp.ExactDigest == "" {
		return dupe.Fingerprint{}, false
	}
	switch {
	case fp.Sampled > 0:
		if fp.Sampled != e.frames || !fp.HasStructure() {
			return dupe.Fingerprint{}, false
		}
	case len(fp.StructuralHash) != expectedFrames(fp.Metadata, e.frames):
		return dupe.Fingerprint{}, false
	}
	return fp, true
}

func expectedFrames(meta media.Metadata, n int) int {
	if meta.FrameCount > 0 && meta.FrameCount < n {
		return meta.FrameCount
	}
	return n
}

func (e *Extractor) extract(ctx context.Context, rec dupe.FileRecord) (dupe.FileRecord, error) {
	rec.Fingerprint = dupe.Fingerprint{}
	rec.Analyzable = false
	rec.Partial = false

	digest, err := e.hashFile(rec.Path)
	if err != nil {
		return rec, services.Wrap(services.ErrUnanalyzable, "fingerprint", "digest", rec.Path, err)
	}
	rec.Fingerprint.ExactDigest = digest

	meta, err := e.probe(ctx, rec.Path)
	switch {
	case err == nil:
		if !meta.Analyzable() {
			return rec, services.Wrap(services.ErrUnanalyzable, "fingerprint", "probe",
				fmt.Sprintf("%s: zero duration or dimensions", rec.Path), nil)
		}
		rec.Fingerprint.Metadata = meta
	case ctx.Err() != nil:
		return rec, ctx.Err()
	case errors.Is(err, services.ErrToolUnavailable):
		e.warnToolUnavailable("probe", err)
		rec.Partial = true
	default:
		return rec, services.Wrap(services.ErrUnanalyzable, "fingerprint", "probe", rec.Path, err)
	}

	frames, err := e.sample(ctx, rec.Path, rec.Fingerprint.Metadata)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return rec, ctx.Err()
	case errors.Is(err, services.ErrToolUnavailable):
		e.warnToolUnavailable("sample", err)
		rec.Partial = true
		rec.Analyzable = true
		return rec, nil
	default:
		return rec, services.Wrap(services.ErrUnanalyzable, "fingerprint", "sample", rec.Path, err)
	}

	hashes, profile, err := Signals(frames)
	if err != nil {
		return rec, services.Wrap(services.ErrUnanalyzable, "fingerprint", "hash", rec.Path, err)
	}
	rec.Fingerprint.StructuralHash = hashes
	rec.Fingerprint.ColorProfile = profile
	rec.Fingerprint.Sampled = e.frames
	rec.Analyzable = true

	e.logger.Debug("fingerprint extracted",
		logging.String("path", rec.Path),
		logging.Int("frames", len(hashes)),
		logging.Bool("partial", rec.Partial),
	)
	return rec, nil
}

func (e *Extractor) probe(ctx context.Context, path string) (media.Metadata, error) {
	if e.prober == nil {
		return media.Metadata{}, services.Wrap(services.ErrToolUnavailable, "fingerprint", "probe", "no prober configured", nil)
	}
	return e.prober.Probe(ctx, path)
}

func (e *Extractor) sample(ctx context.Context, path string, meta media.Metadata) ([]image.Image, error) {
	if e.sampler == nil {
		return nil, services.Wrap(services.ErrToolUnavailable, "fingerprint", "sample", "no sampler configured", nil)
	}
	return e.sampler.Sample(ctx, path, e.frames, meta)
}

func (e *Extractor) warnToolUnavailable(operation string, err error) {
	if _, seen := e.warnOnce.LoadOrStore(operation, struct{}{}); seen {
		return
	}
	logging.WarnWithContext(e.logger, "media tool unavailable; fingerprints will be partial", "tool_unavailable",
		logging.String("operation", operation),
		logging.Error(err),
		logging.ErrorCode(err),
		logging.String(logging.FieldErrorHint, "install ffmpeg/ffprobe or set the binary paths in [fingerprint]"),
		logging.String(logging.FieldImpact, "only digest, name and size signals are compared"),
	)
}

// Signals hashes each frame and averages their color histograms. Frames
// that cannot be hashed are dropped; zero usable frames is an error.
func Signals(frames []image.Image) ([]imagehash.DHash, imagehash.Histogram, error) {
	hashes := make([]imagehash.DHash, 0, len(frames))
	histograms := make([]imagehash.Histogram, 0, len(frames))
	for _, frame := range imagehash.Frames(frames) {
		if !frame.OK {
			continue
		}
		hashes = append(hashes, frame.Hash)
		histograms = append(histograms, frame.Color)
	}
	if len(hashes) == 0 {
		return nil, nil, errors.New("no usable frames")
	}
	return hashes, imagehash.Average(histograms), nil
}
