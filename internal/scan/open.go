package scan

import (
	"errors"
	"fmt"
	"log/slog"

	"gifdupes/internal/compcache"
	"gifdupes/internal/config"
	"gifdupes/internal/decisionlog"
	"gifdupes/internal/logging"
	"gifdupes/internal/media"
	"gifdupes/internal/media/exiftool"
	"gifdupes/internal/media/ffprobe"
	"gifdupes/internal/services"
	"gifdupes/internal/services/ffmpeg"
)

// OpenCache opens the comparison cache described by cfg.
func OpenCache(cfg *config.Config, logger *slog.Logger) (*compcache.Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrCacheUnavailable, "scan", "open cache", "ensure directories", err)
	}
	return compcache.Open(cfg.Cache.Path, compcache.Options{
		Generation:  cfg.Generation(),
		FlushEvery:  cfg.Cache.FlushEvery,
		LockTimeout: cfg.LockTimeout(),
		Logger:      logger,
	})
}

// Open builds a Coordinator backed by ffprobe, exiftool and ffmpeg, the
// comparison cache and, when enabled, the decision log. Close releases them.
func Open(cfg *config.Config, logger *slog.Logger) (*Coordinator, error) {
	cache, err := OpenCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	var decisions *decisionlog.Log
	if cfg.DecisionLog.Enabled {
		decisions, err = decisionlog.Open(cfg.DecisionLog.Path, logger)
		if err != nil {
			logging.WarnWithContext(logging.NewComponentLogger(logger, "scan"), "decision log unavailable", "decision_log_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, fmt.Sprintf("check decision_log.path (%s)", cfg.DecisionLog.Path)),
				logging.String(logging.FieldImpact, "trigger decisions are not recorded"),
			)
			decisions = nil
		}
	}

	probers := []media.Prober{ffprobe.NewProber(cfg.Fingerprint.FFprobeBinary, cfg.Fingerprint.CountFrames)}
	var exif *exiftool.Prober
	if cfg.Fingerprint.ExiftoolFallback {
		exif = exiftool.NewProber(cfg.Fingerprint.ExiftoolBinary)
		probers = append(probers, exif)
	}
	prober := media.WithProbeTimeout(media.NewChainProber(probers...), cfg.ProbeTimeout())
	sampler := media.WithSampleTimeout(ffmpeg.NewSampler(
		ffmpeg.WithBinary(cfg.Fingerprint.FFmpegBinary),
		ffmpeg.WithMaxDimension(cfg.Fingerprint.MaxFrameDimension),
		ffmpeg.WithTempDir(cfg.Paths.TempDir),
	), cfg.SampleTimeout())

	coord, err := New(Options{
		Config:      cfg,
		Cache:       cache,
		Prober:      prober,
		Sampler:     sampler,
		DecisionLog: decisions,
		Logger:      logger,
	})
	if err != nil {
		_ = cache.Close()
		_ = decisions.Close()
		if exif != nil {
			_ = exif.Close()
		}
		return nil, err
	}
	coord.closers = append(coord.closers, cache.Close, decisions.Close)
	if exif != nil {
		coord.closers = append(coord.closers, exif.Close)
	}
	return coord, nil
}

// Cache returns the comparison cache the coordinator uses.
func (c *Coordinator) Cache() *compcache.Store {
	return c.cache
}

// Close releases resources acquired by Open. It is a no-op for coordinators
// built with New.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
