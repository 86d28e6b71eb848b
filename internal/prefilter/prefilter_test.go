package prefilter_test

import (
	"math"
	"testing"
	"time"

	"gifdupes/internal/config"
	"gifdupes/internal/dupe"
	"gifdupes/internal/imagehash"
	"gifdupes/internal/media"
	"gifdupes/internal/prefilter"
)

var baseTime = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func record(path string, size int64, mtime time.Time, hashes []imagehash.DHash, meta media.Metadata) dupe.FileRecord {
	return dupe.FileRecord{
		Path:    path,
		Size:    size,
		ModTime: mtime,
		Fingerprint: dupe.Fingerprint{
			ExactDigest:    path,
			StructuralHash: hashes,
			Metadata:       meta,
		},
		Analyzable: true,
	}
}

func hd() media.Metadata {
	return media.Metadata{FrameCount: 120, DurationMs: 6000, FPS: 20, Width: 1920, Height: 1080}
}

func TestMaxAttainableWithDefaults(t *testing.T) {
	scorer := prefilter.NewScorer(config.DefaultPreFilterWeights())
	if got := scorer.MaxAttainable(); got != 180 {
		t.Fatalf("MaxAttainable = %v, want 180", got)
	}
	if got := scorer.Threshold(); math.Abs(got-27) > 1e-9 {
		t.Fatalf("Threshold = %v, want 27", got)
	}
}

func TestScoreNearCopy(t *testing.T) {
	scorer := prefilter.NewScorer(config.DefaultPreFilterWeights())
	hashes := []imagehash.DHash{1, 2, 3, 4, 5}
	a := record("/gifs/party_cat.gif", 1000, baseTime, hashes, hd())
	b := record("/gifs/party_cat (1).gif", 1010, baseTime.Add(30*time.Second), hashes, hd())

	score := scorer.Score(a, b)
	want := prefilter.CandidateScore{
		Name: 20, Size: 35, Perceptual: 50, Metadata: 25, Timestamp: 20, Directory: 10,
		PrimarySignal: true, Total: 160, Max: 180, Ratio: 160.0 / 180.0,
	}
	if score != want {
		t.Fatalf("Score = %+v\nwant    %+v", score, want)
	}
	if reversed := scorer.Score(b, a); reversed != score {
		t.Fatalf("Score is not symmetric: %+v vs %+v", reversed, score)
	}
	if !scorer.IsCandidate(score) {
		t.Fatal("near copy should be a candidate")
	}
}

func TestPerceptualTiers(t *testing.T) {
	scorer := prefilter.NewScorer(config.DefaultPreFilterWeights())
	tests := []struct {
		name string
		a, b []imagehash.DHash
		want float64
	}{
		{"identical", []imagehash.DHash{1, 2}, []imagehash.DHash{1, 2}, 50},
		{"first frame", []imagehash.DHash{1, 2}, []imagehash.DHash{1, 0xFFFF}, 35},
		{"near", []imagehash.DHash{0, 0}, []imagehash.DHash{0b111, 0b1}, 20},
		{"far", []imagehash.DHash{0, 0}, []imagehash.DHash{math.MaxUint64, math.MaxUint64}, 0},
		{"missing", nil, []imagehash.DHash{1}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := record("/x/one.gif", 1, baseTime, tc.a, media.Metadata{})
			b := record("/y/two.gif", 1, baseTime, tc.b, media.Metadata{})
			if got := scorer.Score(a, b).Perceptual; got != tc.want {
				t.Fatalf("Perceptual = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUnrelatedFilesSharingShapeAreNotCandidates(t *testing.T) {
	a := record("/clips/sunset_beach.gif", 1000, baseTime,
		[]imagehash.DHash{0x0F0F0F0F0F0F0F0F}, hd())
	b := record("/exports/quarterly_report.gif", 3000, baseTime.Add(10*24*time.Hour),
		[]imagehash.DHash{0xF0F0F0F0F0F0F0F0}, hd())

	strict := prefilter.NewScorer(config.DefaultPreFilterWeights())
	score := strict.Score(a, b)
	if score.PrimarySignal || score.Total != 0 || score.Metadata != 25 {
		t.Fatalf("unexpected strict score: %+v", score)
	}
	if got := strict.Generate([]dupe.FileRecord{a, b}); len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}

	weights := config.DefaultPreFilterWeights()
	weights.RequirePrimarySignal = false
	lenient := prefilter.NewScorer(weights)
	score = lenient.Score(a, b)
	if score.Total != 25 {
		t.Fatalf("lenient total = %v, want 25", score.Total)
	}
	if lenient.IsCandidate(score) {
		t.Fatal("metadata alone must stay below the 15% threshold")
	}
}

func TestUnanalyzableRecordsNeverScored(t *testing.T) {
	scorer := prefilter.NewScorer(config.DefaultPreFilterWeights())
	hashes := []imagehash.DHash{7}
	a := record("/gifs/a.gif", 100, baseTime, hashes, hd())
	b := record("/gifs/a (2).gif", 100, baseTime, hashes, hd())
	b.Analyzable = false

	if score := scorer.Score(a, b); score.Total != 0 {
		t.Fatalf("expected zero score, got %+v", score)
	}
	if got := scorer.Generate([]dupe.FileRecord{a, b}); len(got) != 0 {
		t.Fatalf("unanalyzable record produced candidates: %+v", got)
	}
}

func TestGenerateOrderAndSoundness(t *testing.T) {
	scorer := prefilter.NewScorer(config.DefaultPreFilterWeights())
	hashes := []imagehash.DHash{10, 20, 30}
	records := []dupe.FileRecord{
		record("/gifs/dance.gif", 5000, baseTime, hashes, hd()),
		record("/gifs/dance copy.gif", 5000, baseTime, hashes, hd()),
		record("/gifs/dance_small.gif", 4200, baseTime.Add(2*time.Hour), []imagehash.DHash{10, 99, 98}, hd()),
		record("/other/unrelated.gif", 90000, baseTime.Add(400*24*time.Hour),
			[]imagehash.DHash{math.MaxUint64}, media.Metadata{FrameCount: 3, DurationMs: 300, Width: 10, Height: 10}),
	}

	candidates := scorer.Generate(records)
	if len(candidates) == 0 {
		t.Fatal("expected candidates")
	}
	seen := map[dupe.PairKey]bool{}
	for i, cand := range candidates {
		if cand.Score.Total < scorer.Threshold() {
			t.Fatalf("candidate %s below threshold: %+v", cand.Key, cand.Score)
		}
		if cand.Key != dupe.NewPairKey(cand.Pair.A.Path, cand.Pair.B.Path) || cand.Pair.A.Path > cand.Pair.B.Path {
			t.Fatalf("pair not canonical: %+v", cand)
		}
		if seen[cand.Key] {
			t.Fatalf("pair %s listed twice", cand.Key)
		}
		seen[cand.Key] = true
		if i > 0 {
			prev := candidates[i-1]
			if prev.Score.Total < cand.Score.Total ||
				(prev.Score.Total == cand.Score.Total && prev.Key > cand.Key) {
				t.Fatalf("candidates out of order at %d", i)
			}
		}
	}
	if first := candidates[0].Key; first != dupe.NewPairKey("/gifs/dance.gif", "/gifs/dance copy.gif") {
		t.Fatalf("expected exact copy first, got %s", first)
	}
	for key := range seen {
		a, b := key.Paths()
		if a == "/other/unrelated.gif" || b == "/other/unrelated.gif" {
			t.Fatalf("unrelated file should not pair: %s", key)
		}
	}
}

func TestTriggerScore(t *testing.T) {
	model := prefilter.NewTriggerModel(config.DefaultTrigger())
	match := dupe.ComparisonResult{LevelReached: dupe.LevelNearIdentical, Verdict: dupe.Match, Confidence: 85}
	noMatch := dupe.ComparisonResult{LevelReached: dupe.LevelNameSize, Verdict: dupe.NoMatch, Confidence: 60}

	tests := []struct {
		name     string
		in       prefilter.TriggerInput
		score    float64
		admitted bool
		reason   string
	}{
		{"heuristic match with agreeing content", prefilter.TriggerInput{CandidateRatio: 0.5, Provisional: match, PriorBoost: 20, CollectionSize: 50}, 75, true, prefilter.ReasonAdmitted},
		{"name fallback miss in small collection", prefilter.TriggerInput{CandidateRatio: 0.5, Provisional: noMatch, CollectionSize: 50}, 45, true, prefilter.ReasonSmallCollection},
		{"name fallback miss in large collection", prefilter.TriggerInput{CandidateRatio: 0.5, Provisional: noMatch, CollectionSize: 200}, 35, false, prefilter.ReasonBelowThreshold},
		{"large collection penalty", prefilter.TriggerInput{CandidateRatio: 1, Provisional: match, PriorBoost: 20, CollectionSize: 400}, 75, true, prefilter.ReasonAdmitted},
		{"clamped", prefilter.TriggerInput{CandidateRatio: 2, Provisional: match, PriorBoost: 40, CollectionSize: 10}, 100, true, prefilter.ReasonAdmitted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := model.Score(tc.in)
			if math.Abs(got.Score-tc.score) > 1e-9 {
				t.Fatalf("Score = %v, want %v", got.Score, tc.score)
			}
			if got.Admitted != tc.admitted || got.Reason != tc.reason {
				t.Fatalf("Admitted = %v (%s), want %v (%s)", got.Admitted, got.Reason, tc.admitted, tc.reason)
			}
			if got.Threshold != 60 {
				t.Fatalf("Threshold = %v", got.Threshold)
			}
		})
	}
}

func TestTriggerBudget(t *testing.T) {
	model := prefilter.NewTriggerModel(config.DefaultTrigger())
	if got := model.Budget(10); got != 20 {
		t.Fatalf("Budget(10) = %d, want minimum 20", got)
	}
	if got := model.Budget(201); got != 51 {
		t.Fatalf("Budget(201) = %d, want 51", got)
	}
}

func TestAdmitIsDeterministicAndBounded(t *testing.T) {
	cfg := config.DefaultTrigger()
	cfg.MinDeepPairs = 2
	cfg.DeepBudgetRatio = 0
	cfg.SmallCollection = 2
	model := prefilter.NewTriggerModel(cfg)

	match := dupe.ComparisonResult{Verdict: dupe.Match}
	inputs := []prefilter.TriggerInput{
		{Pair: dupe.NewPairKey("/c", "/d"), CandidateRatio: 0.5, Provisional: match, PriorBoost: 20},
		{Pair: dupe.NewPairKey("/a", "/b"), CandidateRatio: 0.5, Provisional: match, PriorBoost: 20},
		{Pair: dupe.NewPairKey("/e", "/f"), CandidateRatio: 1, Provisional: match, PriorBoost: 20},
		{Pair: dupe.NewPairKey("/g", "/h"), CandidateRatio: 0, Provisional: dupe.ComparisonResult{Verdict: dupe.NoMatch}},
	}

	for run := 0; run < 3; run++ {
		decisions := model.Admit(inputs, 4)
		if len(decisions) != 4 {
			t.Fatalf("expected 4 decisions, got %d", len(decisions))
		}
		wantOrder := []dupe.PairKey{
			dupe.NewPairKey("/e", "/f"),
			dupe.NewPairKey("/a", "/b"),
			dupe.NewPairKey("/c", "/d"),
			dupe.NewPairKey("/g", "/h"),
		}
		wantReason := []string{
			prefilter.ReasonAdmitted,
			prefilter.ReasonAdmitted,
			prefilter.ReasonBudgetExhausted,
			prefilter.ReasonBelowThreshold,
		}
		for i, d := range decisions {
			if d.Input.Pair != wantOrder[i] || d.Reason != wantReason[i] {
				t.Fatalf("decision %d = %s/%s, want %s/%s", i, d.Input.Pair, d.Reason, wantOrder[i], wantReason[i])
			}
			if d.Input.CollectionSize != 4 {
				t.Fatalf("decision %d collection size = %d, want 4", i, d.Input.CollectionSize)
			}
			if d.Admitted != (d.Reason == prefilter.ReasonAdmitted) {
				t.Fatalf("decision %d admitted flag inconsistent: %+v", i, d)
			}
		}
	}
}

func TestAdmitSmallCollectionRespectsBudget(t *testing.T) {
	cfg := config.DefaultTrigger()
	cfg.MinDeepPairs = 1
	cfg.DeepBudgetRatio = 0
	model := prefilter.NewTriggerModel(cfg)

	noMatch := dupe.ComparisonResult{Verdict: dupe.NoMatch}
	inputs := []prefilter.TriggerInput{
		{Pair: dupe.NewPairKey("/a", "/b"), CandidateRatio: 0.3, Provisional: noMatch, PriorBoost: 20},
		{Pair: dupe.NewPairKey("/c", "/d"), CandidateRatio: 0.1, Provisional: noMatch},
	}
	decisions := model.Admit(inputs, 2)
	if !decisions[0].Admitted || decisions[0].Reason != prefilter.ReasonSmallCollection {
		t.Fatalf("first decision = %+v, want small collection admission", decisions[0])
	}
	if decisions[0].Score >= decisions[0].Threshold {
		t.Fatalf("score %v should sit below the threshold", decisions[0].Score)
	}
	if decisions[1].Admitted || decisions[1].Reason != prefilter.ReasonBudgetExhausted {
		t.Fatalf("second decision = %+v, want budget exhausted", decisions[1])
	}
}
