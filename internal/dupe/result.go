package dupe

import (
	"fmt"
	"slices"
	"time"
)

// Verdict is the classification of a pair.
type Verdict string

const (
	Match        Verdict = "MATCH"
	NoMatch      Verdict = "NO_MATCH"
	Inconclusive Verdict = "INCONCLUSIVE"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case Match, NoMatch, Inconclusive:
		return true
	default:
		return false
	}
}

// Level numbers a stage of the escalation ladder.
type Level int

const (
	LevelExact Level = iota + 1
	LevelPerceptual
	LevelContent
	LevelNearIdentical
	LevelNameSize
	LevelDeep
)

var levelNames = map[Level]string{
	LevelExact:         "exact",
	LevelPerceptual:    "perceptual",
	LevelContent:       "content",
	LevelNearIdentical: "near_identical",
	LevelNameSize:      "name_size",
	LevelDeep:          "deep",
}

// Valid reports whether l is between 1 and 6.
func (l Level) Valid() bool {
	return l >= LevelExact && l <= LevelDeep
}

// String returns the short level name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level_%d", int(l))
}

// Annotations attached to comparison results.
const (
	AnnotationDeepFailed    = "deep_analysis_failed"
	AnnotationDeepSkipped   = "deep_analysis_skipped"
	AnnotationManualReview  = "manual_review"
	AnnotationLevelsExhaust = "levels_exhausted"
	AnnotationPartial       = "partial_fingerprint"
)

// Metrics holds level-specific numeric evidence.
type Metrics map[string]float64

// ComparisonResult is the outcome of comparing one pair.
type ComparisonResult struct {
	Pair         PairKey   `json:"pair" yaml:"-"`
	KeyA         FileKey   `json:"key_a" yaml:"-"`
	KeyB         FileKey   `json:"key_b" yaml:"-"`
	LevelReached Level     `json:"level" yaml:"level"`
	Verdict      Verdict   `json:"verdict" yaml:"verdict"`
	Confidence   int       `json:"confidence" yaml:"confidence"`
	Metrics      Metrics   `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Annotations  []string  `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	ComputedAt   time.Time `json:"computed_at" yaml:"computed_at"`
}

// ValidFor reports whether the result was computed against the current
// state of both files. Argument order does not matter.
func (r ComparisonResult) ValidFor(a, b FileKey) bool {
	if r.KeyA.Matches(a) && r.KeyB.Matches(b) {
		return true
	}
	return r.KeyA.Matches(b) && r.KeyB.Matches(a)
}

// IsMatch reports whether the pair was classified as duplicates.
func (r ComparisonResult) IsMatch() bool {
	return r.Verdict == Match
}

// HasAnnotation reports whether name was attached to the result.
func (r ComparisonResult) HasAnnotation(name string) bool {
	return slices.Contains(r.Annotations, name)
}

// Annotate appends name once.
func (r *ComparisonResult) Annotate(name string) {
	if name == "" || r.HasAnnotation(name) {
		return
	}
	r.Annotations = append(r.Annotations, name)
}

// SetMetric records a metric, allocating the map on first use.
func (r *ComparisonResult) SetMetric(name string, value float64) {
	if r.Metrics == nil {
		r.Metrics = make(Metrics)
	}
	r.Metrics[name] = value
}

// Clone returns a deep copy safe to mutate.
func (r ComparisonResult) Clone() ComparisonResult {
	out := r
	if r.Metrics != nil {
		out.Metrics = make(Metrics, len(r.Metrics))
		for k, v := range r.Metrics {
			out.Metrics[k] = v
		}
	}
	out.Annotations = slices.Clone(r.Annotations)
	return out
}
