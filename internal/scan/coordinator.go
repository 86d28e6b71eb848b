package scan

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"gifdupes/internal/compcache"
	"gifdupes/internal/config"
	"gifdupes/internal/decisionlog"
	"gifdupes/internal/dupe"
	"gifdupes/internal/fingerprint"
	"gifdupes/internal/logging"
	"gifdupes/internal/matcher"
	"gifdupes/internal/media"
	"gifdupes/internal/prefilter"
	"gifdupes/internal/services"
)

// Options wires a Coordinator. Config and Cache are required.
type Options struct {
	Config  *config.Config
	Cache   *compcache.Store
	Prober  media.Prober
	Sampler media.Sampler
	// DecisionLog is optional; nil disables trigger decision logging.
	DecisionLog *decisionlog.Log
	// Fs is used by the walker. Defaults to the OS filesystem.
	Fs     afero.Fs
	Logger *slog.Logger
	Now    func() time.Time
}

// Coordinator runs scans. A Coordinator runs one scan at a time.
type Coordinator struct {
	cfg       *config.Config
	cache     *compcache.Store
	decisions *decisionlog.Log
	fs        afero.Fs
	logger    *slog.Logger
	now       func() time.Time

	extractor *fingerprint.Extractor
	scorer    *prefilter.Scorer
	trigger   *prefilter.TriggerModel
	matcher   *matcher.Matcher

	mu      sync.Mutex
	closers []func() error
}

// New builds a Coordinator from opts.
func New(opts Options) (*Coordinator, error) {
	if opts.Config == nil {
		return nil, services.Wrap(services.ErrConfiguration, "scan", "new", "config is required", nil)
	}
	if opts.Cache == nil {
		return nil, services.Wrap(services.ErrCacheUnavailable, "scan", "new", "comparison cache is required", nil)
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := logging.NewComponentLogger(opts.Logger, "scan")
	cfg := opts.Config
	return &Coordinator{
		cfg:       cfg,
		cache:     opts.Cache,
		decisions: opts.DecisionLog,
		fs:        opts.Fs,
		logger:    logger,
		now:       opts.Now,
		extractor: fingerprint.New(opts.Prober, opts.Sampler, opts.Cache, cfg.Fingerprint.Frames, opts.Logger),
		scorer:    prefilter.NewScorer(cfg.PreFilter),
		trigger:   prefilter.NewTriggerModel(cfg.Trigger),
		matcher:   matcher.New(cfg.Escalation, opts.Sampler, cfg.DeepTimeout(), opts.Logger),
	}, nil
}

func (c *Coordinator) workers() int {
	if c.cfg.Scan.Workers > 0 {
		return c.cfg.Scan.Workers
	}
	return runtime.NumCPU()
}

// Scan walks roots and classifies every candidate pair found.
func (c *Coordinator) Scan(ctx context.Context, roots []string) (Report, error) {
	records, excluded, err := Walk(c.fs, roots, c.cfg.Scan)
	if err != nil {
		return Report{}, err
	}
	report, err := c.run(ctx, records, excluded)
	report.Roots = append([]string(nil), roots...)
	if c.decisions != nil {
		c.recordRun(ctx, report, err)
	}
	return report, err
}

// ScanRecords classifies a pre-built population. Records need Path, Size and
// ModTime; fingerprints are derived or loaded from the cache.
func (c *Coordinator) ScanRecords(ctx context.Context, records []dupe.FileRecord) (Report, error) {
	report, err := c.run(ctx, records, nil)
	if c.decisions != nil {
		c.recordRun(ctx, report, err)
	}
	return report, err
}

// pending is a pair whose cheap levels ended on a provisional verdict.
type pending struct {
	candidate prefilter.Candidate
	outcome   matcher.Outcome
}

func (c *Coordinator) run(ctx context.Context, population []dupe.FileRecord, excluded []dupe.Exclusion) (Report, error) {
	started := c.now()
	report := Report{
		RunID:     uuid.NewString(),
		StartedAt: started,
		Excluded:  append([]dupe.Exclusion(nil), excluded...),
	}
	ctx = services.WithRunID(ctx, report.RunID)
	logger := logging.WithContext(ctx, c.logger)
	c.matcher.Reset()
	before := c.extractor.Stats()

	cacheStats := c.cache.Stats()
	report.CacheRebuilt = cacheStats.Rebuilt
	logger.Info("scan started",
		logging.Int("files_seen", len(population)+len(excluded)),
		logging.Int("workers", c.workers()),
		logging.Int("cache_fingerprints", cacheStats.Fingerprints),
		logging.Int("cache_entries", cacheStats.Comparisons),
		logging.Bool("cache_rebuilt", cacheStats.Rebuilt),
	)
	c.maybePrune(ctx, logger)

	finish := func(err error) (Report, error) {
		after := c.extractor.Stats()
		report.Stats.FingerprintCacheHits = after.CacheHits - before.CacheHits
		report.Stats.FingerprintsExtracted = after.Extracted - before.Extracted
		report.Stats.DeepExtractions = c.matcher.Extractions()
		report.Stats.Files = len(population) + len(excluded)
		report.Stats.Excluded = len(report.Excluded)
		report.Stats.Degraded = len(report.Degraded)
		report.Stats.DuplicateGroups = len(report.Groups)
		report.FinishedAt = c.now()
		report.Stats.Duration = report.FinishedAt.Sub(started)
		sort.Slice(report.Excluded, func(i, j int) bool { return report.Excluded[i].Path < report.Excluded[j].Path })
		sort.Strings(report.Degraded)
		if flushErr := c.cache.Flush(); flushErr != nil && err == nil {
			err = flushErr
		}
		if err == nil && ctx.Err() != nil {
			report.Cancelled = true
			err = ctx.Err()
		}
		c.logSummary(logger, report, err)
		return report, err
	}

	records, err := c.fingerprintAll(services.WithPhase(ctx, "fingerprint"), population, &report)
	if err != nil || ctx.Err() != nil {
		return finish(err)
	}
	report.Stats.Analyzable = len(records)

	candidates := c.scorer.Generate(records)
	report.Stats.Candidates = len(candidates)
	logging.WithContext(services.WithPhase(ctx, "prefilter"), c.logger).Info("candidates generated",
		logging.Int("files_analyzable", len(records)),
		logging.Int("candidate_pairs", len(candidates)),
		logging.Float64("threshold", c.scorer.Threshold()),
	)

	results, provisional, err := c.compareCheap(services.WithPhase(ctx, "compare"), candidates, &report)
	if err != nil || ctx.Err() != nil {
		report.Pairs = results
		return finish(err)
	}

	deepResults, err := c.runDeep(services.WithPhase(ctx, "deep"), provisional, len(records), &report)
	results = append(results, deepResults...)
	sort.Slice(results, func(i, j int) bool {
		if results[i].A != results[j].A {
			return results[i].A < results[j].A
		}
		return results[i].B < results[j].B
	})
	report.Pairs = results
	report.Groups = groupMatches(results)
	return finish(err)
}

// fingerprintAll extracts fingerprints on the pool and returns the
// analyzable records sorted by path.
func (c *Coordinator) fingerprintAll(ctx context.Context, population []dupe.FileRecord, report *Report) ([]dupe.FileRecord, error) {
	logger := logging.WithContext(ctx, c.logger)
	progress := logging.NewProgressSampler(10)
	var (
		mu      sync.Mutex
		done    int
		records = make([]dupe.FileRecord, 0, len(population))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for _, rec := range population {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := c.extractor.Extract(gctx, rec)

			mu.Lock()
			defer mu.Unlock()
			done++
			if pct := logging.Percent(done, len(population)); progress.ShouldLog(pct, "fingerprint") {
				logger.Info("fingerprint progress",
					logging.Float64(logging.FieldProgressPercent, pct),
					logging.Int("files_seen", done),
				)
			}
			switch {
			case err == nil:
				records = append(records, out)
				if out.Partial {
					report.Degraded = append(report.Degraded, out.Path)
				}
				return nil
			case services.IsRunFatal(err):
				return err
			case gctx.Err() != nil:
				// Cancelled mid-extraction; the file is neither analyzed nor excluded.
				return nil
			default:
				report.Excluded = append(report.Excluded, dupe.Exclusion{
					Path:   rec.Path,
					Reason: services.FailureReason(err),
					Detail: err.Error(),
				})
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}

// compareCheap resolves each candidate from the cache or levels 1 to 5.
// Definitive results are cached and returned; provisional outcomes are
// returned for the trigger pass.
func (c *Coordinator) compareCheap(ctx context.Context, candidates []prefilter.Candidate, report *Report) ([]PairResult, []pending, error) {
	var (
		mu          sync.Mutex
		results     []PairResult
		provisional []pending
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for _, cand := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			pair := cand.Pair
			if cached, ok := c.cache.GetComparison(cand.Key, pair.A.Key(), pair.B.Key()); ok {
				mu.Lock()
				report.Stats.CacheHits++
				results = append(results, newPairResult(cached, true))
				c.noteDegraded(report, cached)
				mu.Unlock()
				return nil
			}

			outcome := c.matcher.Evaluate(pair)
			if outcome.Definitive {
				if err := c.store(outcome.Result); err != nil {
					return err
				}
			}

			mu.Lock()
			defer mu.Unlock()
			report.Stats.CacheMisses++
			report.Stats.Comparisons++
			if outcome.Definitive {
				results = append(results, newPairResult(outcome.Result, false))
				c.noteDegraded(report, outcome.Result)
				return nil
			}
			provisional = append(provisional, pending{candidate: cand, outcome: outcome})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, nil, err
	}
	sort.Slice(provisional, func(i, j int) bool { return provisional[i].candidate.Key < provisional[j].candidate.Key })
	return results, provisional, nil
}

// runDeep applies the trigger model to provisional outcomes and runs level 6
// for admitted pairs.
func (c *Coordinator) runDeep(ctx context.Context, provisional []pending, collection int, report *Report) ([]PairResult, error) {
	if len(provisional) == 0 {
		return nil, nil
	}
	logger := logging.WithContext(ctx, c.logger)

	byKey := make(map[dupe.PairKey]pending, len(provisional))
	inputs := make([]prefilter.TriggerInput, 0, len(provisional))
	for _, p := range provisional {
		byKey[p.candidate.Key] = p
		inputs = append(inputs, prefilter.TriggerInput{
			Pair:           p.candidate.Key,
			CandidateRatio: p.candidate.Score.Ratio,
			Provisional:    p.outcome.Result,
			PriorBoost:     p.outcome.PriorBoost,
			CollectionSize: collection,
		})
	}

	var decisions []prefilter.TriggerDecision
	if c.matcher.DeepEnabled() {
		decisions = c.trigger.Admit(inputs, collection)
		report.Stats.TriggerEvaluations = len(decisions)
	}
	admitted := make(map[dupe.PairKey]bool, len(decisions))
	for _, d := range decisions {
		if d.Admitted {
			admitted[d.Input.Pair] = true
			report.Stats.DeepAdmitted++
		}
	}
	if len(decisions) > 0 {
		logger.Info("deep analysis admission decided",
			logging.Decision("trigger", fmt.Sprintf("%d admitted", len(admitted)),
				fmt.Sprintf("budget %d", c.trigger.Budget(collection)),
				logging.Int("candidate_pairs", len(decisions)),
			)...,
		)
	}

	var (
		mu     sync.Mutex
		finals = make(map[dupe.PairKey]dupe.ComparisonResult, len(provisional))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for _, p := range provisional {
		key := p.candidate.Key
		if !admitted[key] {
			finals[key] = p.outcome.Result
			continue
		}
		if gctx.Err() != nil {
			continue
		}
		g.Go(func() error {
			result := c.matcher.Deep(gctx, p.candidate.Pair, p.outcome)
			if gctx.Err() != nil {
				return nil
			}
			mu.Lock()
			finals[key] = result
			report.Stats.DeepAnalyses++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]PairResult, 0, len(finals))
	for _, p := range provisional {
		result, ok := finals[p.candidate.Key]
		if !ok {
			continue
		}
		if err := c.store(result); err != nil {
			return results, err
		}
		results = append(results, newPairResult(result, false))
		c.noteDegraded(report, result)
	}

	if c.decisions != nil && len(decisions) > 0 {
		c.recordDecisions(ctx, report.RunID, decisions, finals, byKey)
	}
	return results, nil
}

// store caches a final result. Results derived from partial fingerprints or
// missing deep analysis are not cached so a later run can do better.
func (c *Coordinator) store(result dupe.ComparisonResult) error {
	if result.HasAnnotation(dupe.AnnotationPartial) || result.HasAnnotation(dupe.AnnotationDeepSkipped) {
		return nil
	}
	if err := c.cache.PutComparison(result); err != nil {
		if services.IsRunFatal(err) {
			return err
		}
		logging.WarnWithContext(c.logger, "comparison not cached", "cache_put_failed",
			logging.String(logging.FieldPair, result.Pair.String()),
			logging.Error(err),
		)
	}
	return nil
}

func (c *Coordinator) noteDegraded(report *Report, result dupe.ComparisonResult) {
	if result.HasAnnotation(dupe.AnnotationPartial) || result.HasAnnotation(dupe.AnnotationDeepSkipped) {
		report.Degraded = append(report.Degraded, result.Pair.String())
	}
}

func (c *Coordinator) maybePrune(ctx context.Context, logger *slog.Logger) {
	interval := c.cfg.PruneInterval()
	if interval <= 0 || !c.cache.PruneDue(interval) {
		return
	}
	res, err := c.cache.Prune(ctx, c.cfg.CacheMaxAge())
	if err != nil {
		logging.WarnWithContext(logger, "cache prune failed", "cache_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale entries stay until the next prune"),
		)
		return
	}
	logger.Info("cache pruned",
		logging.Int("pruned", res.Fingerprints+res.Comparisons),
		logging.Int("cache_fingerprints", res.Fingerprints),
		logging.Int("cache_entries", res.Comparisons),
	)
}

func (c *Coordinator) logSummary(logger *slog.Logger, report Report, err error) {
	attrs := []logging.Attr{
		logging.Int("files_seen", report.Stats.Files),
		logging.Int("files_analyzable", report.Stats.Analyzable),
		logging.Int("files_excluded", report.Stats.Excluded),
		logging.Int("candidate_pairs", report.Stats.Candidates),
		logging.Int("comparisons", report.Stats.Comparisons),
		logging.Int("cache_hits", report.Stats.CacheHits),
		logging.Int("deep_analyses", report.Stats.DeepAnalyses),
		logging.Int("degraded_pairs", report.Stats.Degraded),
		logging.Int("duplicate_groups", report.Stats.DuplicateGroups),
		logging.Duration("scan_duration", report.Stats.Duration),
	}
	switch {
	case err == nil:
		logger.Info("scan completed", logging.Args(attrs...)...)
	case report.Cancelled:
		logging.WarnWithContext(logger, "scan cancelled", "scan_cancelled",
			append(attrs, logging.String(logging.FieldImpact, "report covers finished work only"))...)
	default:
		logging.ErrorWithContext(logger, "scan failed", "scan_failed",
			append(attrs, logging.Error(err), logging.ErrorCode(err))...)
	}
}
