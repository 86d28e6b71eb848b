package prefilter

import (
	"math"
	"sort"

	"gifdupes/internal/config"
	"gifdupes/internal/dupe"
	"gifdupes/internal/imagehash"
	"gifdupes/internal/textutil"
)

// CandidateScore is the per-factor breakdown for one pair.
type CandidateScore struct {
	Name       float64 `json:"name"`
	Size       float64 `json:"size"`
	Perceptual float64 `json:"perceptual"`
	Metadata   float64 `json:"metadata"`
	Timestamp  float64 `json:"timestamp"`
	Directory  float64 `json:"directory"`
	// PrimarySignal is set when name, size or perceptual scored.
	PrimarySignal bool    `json:"primary_signal"`
	Total         float64 `json:"total"`
	Max           float64 `json:"max"`
	Ratio         float64 `json:"ratio"`
}

// Candidate is a pair selected for the matcher.
type Candidate struct {
	Key   dupe.PairKey
	Pair  dupe.Pair
	Score CandidateScore
}

// Scorer evaluates pairs against injected weights.
type Scorer struct {
	weights config.PreFilterWeights
	max     float64
}

// NewScorer builds a scorer for weights.
func NewScorer(weights config.PreFilterWeights) *Scorer {
	return &Scorer{weights: weights, max: maxAttainable(weights)}
}

// MaxAttainable returns the highest total any pair can reach.
func (s *Scorer) MaxAttainable() float64 {
	return s.max
}

// Threshold returns the minimum total for a candidate.
func (s *Scorer) Threshold() float64 {
	return s.weights.ThresholdRatio * s.max
}

func maxAttainable(w config.PreFilterWeights) float64 {
	total := max(w.PerceptualAllPoints, w.PerceptualFirstPoints, w.PerceptualNearPoints)
	total += w.MetadataFramePoints + w.MetadataDurationPoints + w.MetadataResolutionPoints
	total += w.SameDirectoryPoints
	total += bestPrefixPoints(w.NamePrefixTiers, math.MaxInt)
	total += bestSizePoints(w.SizeTiers, 0)
	total += bestTimePoints(w.TimestampTiers, 0)
	return total
}

// Score computes the candidate score for a and b. Records that are not
// analyzable score zero.
func (s *Scorer) Score(a, b dupe.FileRecord) CandidateScore {
	score := CandidateScore{Max: s.max}
	if !a.Analyzable || !b.Analyzable {
		return score
	}
	w := s.weights

	na, nb := textutil.NormalizeName(a.Base()), textutil.NormalizeName(b.Base())
	if na != "" && nb != "" {
		score.Name = bestPrefixPoints(w.NamePrefixTiers, textutil.CommonPrefixLen(na, nb))
	}
	score.Size = bestSizePoints(w.SizeTiers, relativeSizeDiff(a.Size, b.Size))
	score.Perceptual = s.perceptualPoints(a.Fingerprint.StructuralHash, b.Fingerprint.StructuralHash)

	score.Metadata = s.metadataPoints(a, b)
	score.Timestamp = bestTimePoints(w.TimestampTiers, math.Abs(a.ModTime.Sub(b.ModTime).Seconds()))
	if a.Dir() == b.Dir() {
		score.Directory = w.SameDirectoryPoints
	}

	score.PrimarySignal = score.Name > 0 || score.Size > 0 || score.Perceptual > 0
	score.Total = score.Name + score.Size + score.Perceptual
	if score.PrimarySignal || !w.RequirePrimarySignal {
		score.Total += score.Metadata + score.Timestamp + score.Directory
	}
	if s.max > 0 {
		score.Ratio = score.Total / s.max
	}
	return score
}

// IsCandidate reports whether score reaches the configured threshold.
func (s *Scorer) IsCandidate(score CandidateScore) bool {
	return s.max > 0 && score.Total > 0 && score.Total >= s.Threshold()
}

// Generate scores every unordered pair of analyzable records and returns the
// candidates sorted by total descending, then by pair key.
func (s *Scorer) Generate(records []dupe.FileRecord) []Candidate {
	usable := make([]dupe.FileRecord, 0, len(records))
	for _, rec := range records {
		if rec.Analyzable {
			usable = append(usable, rec)
		}
	}

	var out []Candidate
	for i := 0; i < len(usable); i++ {
		for j := i + 1; j < len(usable); j++ {
			if usable[i].Path == usable[j].Path {
				continue
			}
			score := s.Score(usable[i], usable[j])
			if !s.IsCandidate(score) {
				continue
			}
			pair := dupe.NewPair(usable[i], usable[j])
			out = append(out, Candidate{Key: pair.Key(), Pair: pair, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score.Total != out[j].Score.Total {
			return out[i].Score.Total > out[j].Score.Total
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (s *Scorer) perceptualPoints(a, b []imagehash.DHash) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	w := s.weights
	switch {
	case imagehash.SequenceEqual(a, b):
		return w.PerceptualAllPoints
	case a[0] == b[0]:
		return w.PerceptualFirstPoints
	}
	if mean := imagehash.MeanHamming(a, b); mean >= 0 && mean <= w.PerceptualNearDistance {
		return w.PerceptualNearPoints
	}
	return 0
}

func (s *Scorer) metadataPoints(a, b dupe.FileRecord) float64 {
	w := s.weights
	ma, mb := a.Fingerprint.Metadata, b.Fingerprint.Metadata
	points := 0.0
	if ma.FrameCount > 0 && mb.FrameCount > 0 && absInt(ma.FrameCount-mb.FrameCount) <= w.MetadataFrameTolerance {
		points += w.MetadataFramePoints
	}
	if ma.DurationMs > 0 && mb.DurationMs > 0 && absInt64(ma.DurationMs-mb.DurationMs) <= w.MetadataDurationToleranceMs {
		points += w.MetadataDurationPoints
	}
	if ma.Width > 0 && ma.Width == mb.Width && ma.Height == mb.Height {
		points += w.MetadataResolutionPoints
	}
	return points
}

// relativeSizeDiff returns |a-b| / max(a, b) in [0, 1].
func relativeSizeDiff(a, b int64) float64 {
	larger := max(a, b)
	if larger <= 0 {
		return 0
	}
	return float64(absInt64(a-b)) / float64(larger)
}

func bestPrefixPoints(tiers []config.PrefixTier, prefixLen int) float64 {
	best := 0.0
	for _, tier := range tiers {
		if prefixLen >= tier.MinLength {
			best = max(best, tier.Points)
		}
	}
	return best
}

func bestSizePoints(tiers []config.SizeTier, diff float64) float64 {
	best := 0.0
	for _, tier := range tiers {
		if diff <= tier.MaxDiff {
			best = max(best, tier.Points)
		}
	}
	return best
}

func bestTimePoints(tiers []config.TimeTier, seconds float64) float64 {
	best := 0.0
	for _, tier := range tiers {
		if seconds <= float64(tier.MaxSeconds) {
			best = max(best, tier.Points)
		}
	}
	return best
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
