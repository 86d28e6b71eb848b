package scan

import (
	"testing"

	"gifdupes/internal/dupe"
)

func TestGroupMatchesJoinsTransitively(t *testing.T) {
	pairs := []PairResult{
		{A: "/x/c.gif", B: "/x/d.gif", Verdict: dupe.Match},
		{A: "/x/a.gif", B: "/x/b.gif", Verdict: dupe.Match},
		{A: "/x/b.gif", B: "/x/c.gif", Verdict: dupe.Match},
		{A: "/x/e.gif", B: "/x/f.gif", Verdict: dupe.NoMatch},
		{A: "/y/g.gif", B: "/y/h.gif", Verdict: dupe.Match},
		{A: "/x/a.gif", B: "/y/h.gif", Verdict: dupe.Inconclusive},
	}
	groups := groupMatches(pairs)
	if len(groups) != 2 {
		t.Fatalf("groups = %+v", groups)
	}
	first := groups[0]
	want := []string{"/x/a.gif", "/x/b.gif", "/x/c.gif", "/x/d.gif"}
	if len(first.Files) != len(want) || len(first.Pairs) != 3 {
		t.Fatalf("first group = %+v", first)
	}
	for i := range want {
		if first.Files[i] != want[i] {
			t.Fatalf("first group files = %v", first.Files)
		}
	}
	if groups[1].Files[0] != "/y/g.gif" || len(groups[1].Pairs) != 1 {
		t.Fatalf("second group = %+v", groups[1])
	}
}

func TestGroupMatchesIgnoresNonMatches(t *testing.T) {
	groups := groupMatches([]PairResult{{A: "a", B: "b", Verdict: dupe.NoMatch}})
	if len(groups) != 0 {
		t.Fatalf("expected no groups, got %+v", groups)
	}
	report := Report{Pairs: []PairResult{
		{A: "a", B: "b", Verdict: dupe.NoMatch},
		{A: "a", B: "c", Verdict: dupe.Match},
	}}
	if got := report.Matches(); len(got) != 1 || got[0].B != "c" {
		t.Fatalf("Matches = %+v", got)
	}
}
