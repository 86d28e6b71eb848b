package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"gifdupes/internal/dupe"
	"gifdupes/internal/imagehash"
	"gifdupes/internal/logging"
	"gifdupes/internal/services"
)

// deepSignals holds per-frame signals for one file, one entry per sampled
// frame including those that could not be hashed.
type deepSignals struct {
	frames []imagehash.FrameSignal
	err    error
}

// Deep runs level 6 for an admitted pair and returns the final result.
// Definitive outcomes are returned unchanged. A missing sampler keeps the
// provisional verdict and annotates the result as skipped; any other
// extraction failure yields a low-confidence NO_MATCH.
func (m *Matcher) Deep(ctx context.Context, pair dupe.Pair, outcome Outcome) dupe.ComparisonResult {
	provisional := outcome.Result.Clone()
	if outcome.Definitive || !m.DeepEnabled() {
		return provisional
	}
	logger := logging.WithContext(services.WithPair(ctx, pair.Key().String()), m.logger)

	if m.sampler == nil {
		return m.skipDeep(provisional, services.Wrap(services.ErrToolUnavailable, "matcher", "deep", "no frame sampler configured", nil), logger)
	}

	sa, errA := m.signals(ctx, pair.A)
	sb, errB := m.signals(ctx, pair.B)
	if err := errors.Join(errA, errB); err != nil {
		if errors.Is(err, services.ErrToolUnavailable) {
			return m.skipDeep(provisional, err, logger)
		}
		return m.failDeep(pair, provisional, err, logger)
	}

	// Frames are compared by sample index; an index unusable on either side
	// is left out of both.
	n, structural, color := 0, 0, 0
	totalHamming, totalCorrelation := 0.0, 0.0
	for i := range min(len(sa.frames), len(sb.frames)) {
		fa, fb := sa.frames[i], sb.frames[i]
		if !fa.OK || !fb.OK {
			continue
		}
		n++
		distance := imagehash.Hamming(fa.Hash, fb.Hash)
		correlation := imagehash.Correlation(fa.Color, fb.Color)
		totalHamming += float64(distance)
		totalCorrelation += correlation
		if distance < m.thresholds.DeepHammingThreshold {
			structural++
		}
		if correlation > m.thresholds.DeepColorThreshold {
			color++
		}
	}
	if n == 0 {
		return m.failDeep(pair, provisional, services.Wrap(services.ErrUnanalyzable, "matcher", "deep", "no comparable frames", nil), logger)
	}
	visual := float64(structural) / float64(n)
	colorPass := float64(color) / float64(n)

	result := m.deepResult(pair, provisional)
	result.SetMetric(MetricVisualPct, 100*visual)
	result.SetMetric(MetricColorPct, 100*colorPass)
	result.SetMetric(MetricDeepFrames, float64(n))
	result.SetMetric(MetricMeanHamming, totalHamming/float64(n))
	result.SetMetric(MetricMeanCorrelation, totalCorrelation/float64(n))

	if visual >= m.thresholds.DeepStructuralPass && colorPass >= m.thresholds.DeepColorPass {
		result.Verdict = dupe.Match
		result.Confidence = clampConfidence(50 * (visual + colorPass))
	} else {
		result.Verdict = dupe.NoMatch
		result.Confidence = clampConfidence(100 - 50*(visual+colorPass))
	}

	logger.Debug("deep frame analysis decided",
		logging.Decision("deep_analysis", string(result.Verdict),
			fmt.Sprintf("visual=%.0f%% color=%.0f%%", 100*visual, 100*colorPass),
			logging.Int(logging.FieldConfidence, result.Confidence),
		)...,
	)
	return result
}

// deepResult starts a level-6 result that remembers the provisional verdict.
func (m *Matcher) deepResult(pair dupe.Pair, provisional dupe.ComparisonResult) dupe.ComparisonResult {
	result := dupe.ComparisonResult{
		Pair:         pair.Key(),
		KeyA:         pair.A.Key(),
		KeyB:         pair.B.Key(),
		LevelReached: dupe.LevelDeep,
		ComputedAt:   m.now().UTC(),
	}
	for name, value := range provisional.Metrics {
		result.SetMetric(name, value)
	}
	result.SetMetric(MetricProvisionalLevel, float64(provisional.LevelReached))
	result.SetMetric(MetricProvisionalConfidence, float64(provisional.Confidence))
	result.SetMetric(MetricProvisionalMatch, boolMetric(provisional.Verdict == dupe.Match))
	if provisional.HasAnnotation(dupe.AnnotationPartial) {
		result.Annotate(dupe.AnnotationPartial)
	}
	return result
}

func (m *Matcher) skipDeep(provisional dupe.ComparisonResult, err error, logger *slog.Logger) dupe.ComparisonResult {
	provisional.Annotate(dupe.AnnotationDeepSkipped)
	logger.Warn("deep frame analysis skipped",
		logging.Args(
			logging.String(logging.FieldEventType, "deep_analysis_skipped"),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set fingerprint.ffmpeg_binary"),
			logging.String(logging.FieldImpact, "provisional verdict kept"),
			logging.Error(err),
		)...,
	)
	return provisional
}

func (m *Matcher) failDeep(pair dupe.Pair, provisional dupe.ComparisonResult, err error, logger *slog.Logger) dupe.ComparisonResult {
	result := m.deepResult(pair, provisional)
	result.Verdict = dupe.NoMatch
	result.Confidence = m.thresholds.DeepFailureConfidence
	result.Annotate(dupe.AnnotationDeepFailed)
	logger.Warn("deep frame analysis failed",
		logging.Args(
			logging.String(logging.FieldEventType, "deep_analysis_failed"),
			logging.String(logging.FieldErrorHint, "inspect the files with ffprobe; the pair is not retried this run"),
			logging.String(logging.FieldImpact, "pair classified NO_MATCH with low confidence"),
			logging.ErrorCode(err),
			logging.Error(err),
		)...,
	)
	return result
}

// signals extracts per-frame signals for rec once per run. Concurrent
// callers for the same file share one extraction.
func (m *Matcher) signals(ctx context.Context, rec dupe.FileRecord) (deepSignals, error) {
	key := rec.Path + "\x00" + strconv.FormatInt(rec.Size, 10) + "\x00" + strconv.FormatInt(rec.ModTime.UnixNano(), 10)

	m.mu.Lock()
	cached, ok := m.deep[key]
	m.mu.Unlock()
	if ok {
		return cached, cached.err
	}

	value, err, _ := m.flights.Do(key, func() (any, error) {
		m.mu.Lock()
		if cached, ok := m.deep[key]; ok {
			m.mu.Unlock()
			return cached, cached.err
		}
		m.calls++
		m.mu.Unlock()

		signals := m.extract(ctx, rec)
		if ctx.Err() == nil {
			m.mu.Lock()
			m.deep[key] = signals
			m.mu.Unlock()
		}
		return signals, signals.err
	})
	signals, _ := value.(deepSignals)
	return signals, err
}

func (m *Matcher) extract(ctx context.Context, rec dupe.FileRecord) deepSignals {
	frames := m.thresholds.DeepFrames
	callCtx := ctx
	if m.deepTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.deepTimeout)
		defer cancel()
	}

	images, err := m.sampler.Sample(callCtx, rec.Path, frames, rec.Fingerprint.Metadata)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = services.Wrap(services.ErrTimeout, "matcher", "deep sample",
				fmt.Sprintf("%s exceeded %s", rec.Path, m.deepTimeout), err)
		}
		return deepSignals{err: err}
	}

	signals := deepSignals{frames: imagehash.Frames(images)}
	usable := slices.ContainsFunc(signals.frames, func(f imagehash.FrameSignal) bool { return f.OK })
	if !usable {
		signals.err = services.Wrap(services.ErrUnanalyzable, "matcher", "deep sample", "no decodable frames in "+rec.Path, nil)
	}
	return signals
}

// Extractions returns how many files had deep signals extracted since the
// last Reset.
func (m *Matcher) Extractions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Reset drops memoized deep signals.
func (m *Matcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deep = make(map[string]deepSignals)
	m.calls = 0
}
