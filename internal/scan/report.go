package scan

import (
	"sort"
	"time"

	"gifdupes/internal/dupe"
)

// PairResult is the reported classification of one pair.
type PairResult struct {
	A           string       `json:"a" yaml:"a"`
	B           string       `json:"b" yaml:"b"`
	Level       dupe.Level   `json:"level" yaml:"level"`
	LevelName   string       `json:"level_name" yaml:"level_name"`
	Verdict     dupe.Verdict `json:"verdict" yaml:"verdict"`
	Confidence  int          `json:"confidence" yaml:"confidence"`
	Metrics     dupe.Metrics `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Annotations []string     `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	Cached      bool         `json:"cached" yaml:"cached"`
}

func newPairResult(result dupe.ComparisonResult, cached bool) PairResult {
	a, b := result.Pair.Paths()
	return PairResult{
		A:           a,
		B:           b,
		Level:       result.LevelReached,
		LevelName:   result.LevelReached.String(),
		Verdict:     result.Verdict,
		Confidence:  result.Confidence,
		Metrics:     result.Metrics,
		Annotations: result.Annotations,
		Cached:      cached,
	}
}

// Group is a set of files connected by MATCH verdicts.
type Group struct {
	Files []string     `json:"files" yaml:"files"`
	Pairs []PairResult `json:"pairs" yaml:"pairs"`
}

// Stats counts the work a run did.
type Stats struct {
	Files                 int           `json:"files" yaml:"files"`
	Analyzable            int           `json:"analyzable" yaml:"analyzable"`
	Excluded              int           `json:"excluded" yaml:"excluded"`
	FingerprintCacheHits  int64         `json:"fingerprint_cache_hits" yaml:"fingerprint_cache_hits"`
	FingerprintsExtracted int64         `json:"fingerprints_extracted" yaml:"fingerprints_extracted"`
	Candidates            int           `json:"candidates" yaml:"candidates"`
	Comparisons           int           `json:"comparisons" yaml:"comparisons"`
	CacheHits             int           `json:"cache_hits" yaml:"cache_hits"`
	CacheMisses           int           `json:"cache_misses" yaml:"cache_misses"`
	TriggerEvaluations    int           `json:"trigger_evaluations" yaml:"trigger_evaluations"`
	DeepAdmitted          int           `json:"deep_admitted" yaml:"deep_admitted"`
	DeepAnalyses          int           `json:"deep_analyses" yaml:"deep_analyses"`
	DeepExtractions       int           `json:"deep_extractions" yaml:"deep_extractions"`
	Degraded              int           `json:"degraded" yaml:"degraded"`
	DuplicateGroups       int           `json:"duplicate_groups" yaml:"duplicate_groups"`
	Duration              time.Duration `json:"duration" yaml:"duration"`
}

// Report is the outcome of a scan.
type Report struct {
	RunID        string           `json:"run_id" yaml:"run_id"`
	Roots        []string         `json:"roots,omitempty" yaml:"roots,omitempty"`
	StartedAt    time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time        `json:"finished_at" yaml:"finished_at"`
	Groups       []Group          `json:"groups" yaml:"groups"`
	Pairs        []PairResult     `json:"pairs" yaml:"pairs"`
	Excluded     []dupe.Exclusion `json:"excluded" yaml:"excluded"`
	Degraded     []string         `json:"degraded,omitempty" yaml:"degraded,omitempty"`
	Stats        Stats            `json:"stats" yaml:"stats"`
	CacheRebuilt bool             `json:"cache_rebuilt" yaml:"cache_rebuilt"`
	// Cancelled is set when the run stopped early; the report then covers
	// only the work that finished.
	Cancelled bool `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
}

// Matches returns the MATCH pairs in report order.
func (r Report) Matches() []PairResult {
	var out []PairResult
	for _, pair := range r.Pairs {
		if pair.Verdict == dupe.Match {
			out = append(out, pair)
		}
	}
	return out
}

// groupMatches joins files connected by MATCH results with union-find.
// Files are sorted within a group and groups are ordered by their first file.
func groupMatches(pairs []PairResult) []Group {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		p, ok := parent[x]
		if !ok {
			parent[x] = x
			return x
		}
		if p == x {
			return x
		}
		root := find(p)
		parent[x] = root
		return root
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	for _, pair := range pairs {
		if pair.Verdict == dupe.Match {
			union(pair.A, pair.B)
		}
	}

	byRoot := make(map[string]*Group)
	for file := range parent {
		root := find(file)
		g, ok := byRoot[root]
		if !ok {
			g = &Group{}
			byRoot[root] = g
		}
		g.Files = append(g.Files, file)
	}
	for _, pair := range pairs {
		if pair.Verdict == dupe.Match {
			g := byRoot[find(pair.A)]
			g.Pairs = append(g.Pairs, pair)
		}
	}

	groups := make([]Group, 0, len(byRoot))
	for _, g := range byRoot {
		sort.Strings(g.Files)
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Files[0] < groups[j].Files[0] })
	return groups
}
