package matcher

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"gifdupes/internal/config"
	"gifdupes/internal/dupe"
	"gifdupes/internal/imagehash"
	"gifdupes/internal/logging"
	"gifdupes/internal/media"
	"gifdupes/internal/textutil"
)

// Metric names recorded on results.
const (
	MetricMeanHamming           = "mean_hamming"
	MetricFrameDiff             = "frame_diff"
	MetricDurationDiffMs        = "duration_diff_ms"
	MetricFPSDiff               = "fps_diff"
	MetricResolutionMatch       = "resolution_match"
	MetricPriorBoost            = "prior_boost"
	MetricSizeRatio             = "size_ratio"
	MetricNameSimilarity        = "name_similarity"
	MetricSizeDiffPct           = "size_diff_pct"
	MetricVisualPct             = "visual_pct"
	MetricColorPct              = "color_pct"
	MetricDeepFrames            = "deep_frames"
	MetricMeanCorrelation       = "mean_correlation"
	MetricProvisionalLevel      = "provisional_level"
	MetricProvisionalConfidence = "provisional_confidence"
	MetricProvisionalMatch      = "provisional_match"
)

// Outcome is the result of the cheap levels.
type Outcome struct {
	Result dupe.ComparisonResult
	// Definitive outcomes never escalate to level 6.
	Definitive bool
	// PriorBoost is non-zero when level 3 found the content fingerprints in
	// agreement.
	PriorBoost float64
}

// Matcher runs the escalation ladder.
type Matcher struct {
	thresholds  config.EscalationThresholds
	sampler     media.Sampler
	deepTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	flights singleflight.Group
	mu      sync.Mutex
	deep    map[string]deepSignals
	calls   int
}

// New builds a matcher. sampler may be nil, in which case level 6 is skipped
// and pairs keep their provisional verdict.
func New(thresholds config.EscalationThresholds, sampler media.Sampler, deepTimeout time.Duration, logger *slog.Logger) *Matcher {
	return &Matcher{
		thresholds:  thresholds,
		sampler:     sampler,
		deepTimeout: deepTimeout,
		logger:      logging.NewComponentLogger(logger, "matcher"),
		now:         time.Now,
		deep:        make(map[string]deepSignals),
	}
}

// DeepEnabled reports whether level 6 can run at all.
func (m *Matcher) DeepEnabled() bool {
	return m.thresholds.LevelEnabled(int(dupe.LevelDeep))
}

// Evaluate runs levels 1 to 5 for pair.
func (m *Matcher) Evaluate(pair dupe.Pair) Outcome {
	a, b := pair.A, pair.B
	result := dupe.ComparisonResult{
		Pair:       pair.Key(),
		KeyA:       a.Key(),
		KeyB:       b.Key(),
		ComputedAt: m.now().UTC(),
	}
	if a.Partial || b.Partial {
		result.Annotate(dupe.AnnotationPartial)
	}

	// Level 1 cannot be disabled.
	result.LevelReached = dupe.LevelExact
	if a.Fingerprint.ExactDigest != "" && a.Fingerprint.ExactDigest == b.Fingerprint.ExactDigest {
		result.Verdict = dupe.Match
		result.Confidence = 100
		return Outcome{Result: result, Definitive: true}
	}

	lowest := -1
	observe := func(confidence int) {
		if lowest < 0 || confidence < lowest {
			lowest = confidence
		}
	}
	var boost float64

	if m.thresholds.LevelEnabled(int(dupe.LevelPerceptual)) {
		result.LevelReached = dupe.LevelPerceptual
		if verdict, confidence, ok := m.perceptual(&result, a, b); ok {
			if verdict == dupe.Match {
				result.Verdict = dupe.Match
				result.Confidence = confidence
				return Outcome{Result: result, Definitive: true}
			}
			observe(confidence)
		}
	}

	if m.thresholds.LevelEnabled(int(dupe.LevelContent)) {
		result.LevelReached = dupe.LevelContent
		agreed, compared := m.content(&result, a, b)
		switch {
		case compared && !agreed && m.thresholds.Level3MismatchDefinitive:
			result.Verdict = dupe.NoMatch
			result.Confidence = m.thresholds.Level3MismatchConfidence
			return Outcome{Result: result, Definitive: true}
		case compared && !agreed:
			observe(100 - m.thresholds.Level3MismatchConfidence)
		case compared:
			boost = m.thresholds.Level3PriorBoost
			result.SetMetric(MetricPriorBoost, boost)
			observe(clampConfidence(50 + boost))
		}
	}

	if m.thresholds.LevelEnabled(int(dupe.LevelNearIdentical)) {
		result.LevelReached = dupe.LevelNearIdentical
		if ratio, ok := m.nearIdentical(&result, a, b); ok {
			if ratio >= m.thresholds.SizeRatioBand {
				result.Verdict = dupe.Match
				result.Confidence = m.thresholds.Level4Confidence
				result.Annotate(dupe.AnnotationManualReview)
				return Outcome{Result: result, PriorBoost: boost}
			}
			observe(clampConfidence(100 * ratio))
		}
	}

	if m.thresholds.LevelEnabled(int(dupe.LevelNameSize)) {
		result.LevelReached = dupe.LevelNameSize
		result.Verdict, result.Confidence = m.nameSize(&result, a, b)
		return Outcome{Result: result, PriorBoost: boost}
	}

	// Every enabled level was inconclusive.
	result.Verdict = dupe.NoMatch
	result.Confidence = max(lowest, 0)
	result.Annotate(dupe.AnnotationLevelsExhaust)
	return Outcome{Result: result, PriorBoost: boost}
}

// perceptual compares the structural hash sequences. ok is false when either
// side has no hashes.
func (m *Matcher) perceptual(result *dupe.ComparisonResult, a, b dupe.FileRecord) (dupe.Verdict, int, bool) {
	if !a.Fingerprint.HasStructure() || !b.Fingerprint.HasStructure() {
		return dupe.Inconclusive, 0, false
	}
	ha, hb := a.Fingerprint.StructuralHash, b.Fingerprint.StructuralHash
	mean := imagehash.MeanHamming(ha, hb)
	result.SetMetric(MetricMeanHamming, mean)
	if imagehash.SequenceEqual(ha, hb) {
		return dupe.Match, m.thresholds.Level2Confidence, true
	}
	return dupe.Inconclusive, clampConfidence(100 * (1 - mean/64)), true
}

// content compares the metadata fields both sides know. compared is false
// when no field could be compared.
func (m *Matcher) content(result *dupe.ComparisonResult, a, b dupe.FileRecord) (agreed, compared bool) {
	ma, mb := a.Fingerprint.Metadata, b.Fingerprint.Metadata
	agreed = true
	if ma.FrameCount > 0 && mb.FrameCount > 0 {
		compared = true
		diff := absInt(ma.FrameCount - mb.FrameCount)
		result.SetMetric(MetricFrameDiff, float64(diff))
		agreed = agreed && diff <= m.thresholds.FrameCountTolerance
	}
	if ma.DurationMs > 0 && mb.DurationMs > 0 {
		compared = true
		diff := absInt64(ma.DurationMs - mb.DurationMs)
		result.SetMetric(MetricDurationDiffMs, float64(diff))
		agreed = agreed && diff <= m.thresholds.DurationToleranceMs
	}
	if ma.FPS > 0 && mb.FPS > 0 {
		compared = true
		diff := math.Abs(ma.FPS - mb.FPS)
		result.SetMetric(MetricFPSDiff, diff)
		agreed = agreed && diff <= m.thresholds.FPSTolerance
	}
	if ma.Width > 0 && ma.Height > 0 && mb.Width > 0 && mb.Height > 0 {
		compared = true
		same := ma.Width == mb.Width && ma.Height == mb.Height
		result.SetMetric(MetricResolutionMatch, boolMetric(same))
		agreed = agreed && same
	}
	return agreed && compared, compared
}

// nearIdentical returns the size ratio when frame count and duration are
// known and identical on both sides.
func (m *Matcher) nearIdentical(result *dupe.ComparisonResult, a, b dupe.FileRecord) (float64, bool) {
	ma, mb := a.Fingerprint.Metadata, b.Fingerprint.Metadata
	if ma.FrameCount <= 0 || ma.DurationMs <= 0 {
		return 0, false
	}
	if ma.FrameCount != mb.FrameCount || ma.DurationMs != mb.DurationMs {
		return 0, false
	}
	larger := max(a.Size, b.Size)
	if larger <= 0 {
		return 0, false
	}
	ratio := float64(min(a.Size, b.Size)) / float64(larger)
	result.SetMetric(MetricSizeRatio, ratio)
	return ratio, true
}

// nameSize applies the name similarity tiers.
func (m *Matcher) nameSize(result *dupe.ComparisonResult, a, b dupe.FileRecord) (dupe.Verdict, int) {
	similarity := textutil.CompareNames(a.Base(), b.Base()).Best()
	sizeDiff := 0.0
	if larger := max(a.Size, b.Size); larger > 0 {
		sizeDiff = 100 * float64(absInt64(a.Size-b.Size)) / float64(larger)
	}
	result.SetMetric(MetricNameSimilarity, similarity)
	result.SetMetric(MetricSizeDiffPct, sizeDiff)
	for _, tier := range m.thresholds.NameTiers {
		if similarity >= tier.MinSimilarity && sizeDiff < tier.MaxSizeDiff {
			return dupe.Match, tier.Confidence
		}
	}
	return dupe.NoMatch, m.thresholds.Level5NoMatchConfidence
}

func clampConfidence(v float64) int {
	return int(math.Round(math.Min(math.Max(v, 0), 100)))
}

func boolMetric(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
