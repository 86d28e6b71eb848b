package prefilter

import (
	"math"
	"sort"

	"gifdupes/internal/config"
	"gifdupes/internal/dupe"
)

// Trigger decision reasons.
const (
	ReasonAdmitted        = "admitted"
	ReasonBelowThreshold  = "below_threshold"
	ReasonBudgetExhausted = "budget_exhausted"
	// ReasonSmallCollection admits a pair that scored below the threshold in
	// a collection no larger than trigger.small_collection.
	ReasonSmallCollection = "small_collection"
)

// TriggerInput carries the signals the trigger model weighs for one pair.
type TriggerInput struct {
	Pair           dupe.PairKey
	CandidateRatio float64
	// Provisional is the heuristic verdict reached by levels 1-5.
	Provisional dupe.ComparisonResult
	// PriorBoost is the level-3 boost when the content fingerprints agreed.
	PriorBoost     float64
	CollectionSize int
}

// TriggerDecision is the model output for one pair.
type TriggerDecision struct {
	Input     TriggerInput
	Score     float64
	Threshold float64
	Admitted  bool
	Reason    string
}

// TriggerModel gates the deep frame analysis.
type TriggerModel struct {
	cfg config.Trigger
}

// NewTriggerModel builds a model from cfg.
func NewTriggerModel(cfg config.Trigger) *TriggerModel {
	return &TriggerModel{cfg: cfg}
}

// Score returns a 0-100 score for in. The decision ignores the deep-analysis
// budget; Admit applies it. In collections no larger than small_collection
// every pair is admitted and the threshold only orders them.
func (m *TriggerModel) Score(in TriggerInput) TriggerDecision {
	ratio := math.Min(math.Max(in.CandidateRatio, 0), 1)
	score := m.cfg.CandidateWeight * ratio
	switch in.Provisional.Verdict {
	case dupe.Match:
		// Only heuristic levels leave a provisional match behind.
		score += m.cfg.HeuristicMatchPoints
	default:
		score += m.cfg.PriorFailurePoints
	}
	score += in.PriorBoost
	score -= m.collectionPenalty(in.CollectionSize)
	score = math.Min(math.Max(score, 0), 100)

	decision := TriggerDecision{
		Input:     in,
		Score:     score,
		Threshold: m.cfg.ConfidenceThreshold,
		Admitted:  score >= m.cfg.ConfidenceThreshold,
		Reason:    ReasonAdmitted,
	}
	switch {
	case decision.Admitted:
	case m.small(in.CollectionSize):
		decision.Admitted = true
		decision.Reason = ReasonSmallCollection
	default:
		decision.Reason = ReasonBelowThreshold
	}
	return decision
}

func (m *TriggerModel) small(n int) bool {
	return n > 0 && n <= m.cfg.SmallCollection
}

// collectionPenalty grows with log2 of the collection size above the small
// collection bound.
func (m *TriggerModel) collectionPenalty(n int) float64 {
	small := m.cfg.SmallCollection
	if small <= 0 || n <= small {
		return 0
	}
	return m.cfg.CollectionPenalty * math.Log2(float64(n)/float64(small))
}

// Budget returns how many pairs may run the deep analysis in a collection of
// n files.
func (m *TriggerModel) Budget(n int) int {
	budget := int(math.Ceil(m.cfg.DeepBudgetRatio * float64(n)))
	return max(m.cfg.MinDeepPairs, budget)
}

// Admit scores every input and admits eligible pairs in order of descending
// score, then pair key, until the budget for collectionSize is spent. The
// returned decisions follow that order.
func (m *TriggerModel) Admit(inputs []TriggerInput, collectionSize int) []TriggerDecision {
	decisions := make([]TriggerDecision, 0, len(inputs))
	for _, in := range inputs {
		in.CollectionSize = collectionSize
		decisions = append(decisions, m.Score(in))
	}
	sort.Slice(decisions, func(i, j int) bool {
		if decisions[i].Score != decisions[j].Score {
			return decisions[i].Score > decisions[j].Score
		}
		return decisions[i].Input.Pair < decisions[j].Input.Pair
	})

	remaining := m.Budget(collectionSize)
	for i := range decisions {
		if !decisions[i].Admitted {
			continue
		}
		if remaining <= 0 {
			decisions[i].Admitted = false
			decisions[i].Reason = ReasonBudgetExhausted
			continue
		}
		remaining--
	}
	return decisions
}
