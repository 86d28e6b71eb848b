package textutil

import (
	"math"
	"testing"
)

func TestWordSimilarityEmpty(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"both empty", "", ""},
		{"a empty", "", "cat dance"},
		{"only counters", "1 2 3", "cat dance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WordSimilarity(tt.a, tt.b); got != 0 {
				t.Errorf("WordSimilarity() = %v, want 0", got)
			}
		})
	}
}

func TestWordSimilarityIgnoresOrder(t *testing.T) {
	if got := WordSimilarity("cat_dance_loop.gif", "loop-cat-dance.gif"); math.Abs(got-1) > 1e-9 {
		t.Errorf("WordSimilarity(same words) = %v, want 1.0", got)
	}
	a, c := "cat dance loop", "cat jumping fence"
	if WordSimilarity(a, c) != WordSimilarity(c, a) {
		t.Error("word similarity not symmetric")
	}
	if got := WordSimilarity("clip", "clip recut"); math.Abs(got-1/math.Sqrt2) > 1e-9 {
		t.Errorf("WordSimilarity(partial) = %v", got)
	}
}

func TestWordsDropsCountersAndSingleRunes(t *testing.T) {
	got := Words("My_Cat-is SO cute 2 (1080).gif")
	want := []string{"my", "cat", "is", "so", "cute"}
	if len(got) != len(want) {
		t.Fatalf("Words = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Words = %v, want %v", got, want)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"/media/Café_Dance--Loop.GIF": "cafe dance loop",
		"clip.final.webp":             "clip final",
		"  spaced   out .gif":         "spaced out",
		"STRASSE.gif":                 "strasse",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCoreNameStripsVariantSuffixes(t *testing.T) {
	tests := map[string]string{
		"cat dance (2)":        "cat dance",
		"cat dance copy":       "cat dance",
		"cat dance v2 final":   "cat dance",
		"cat dance 720p":       "cat dance",
		"cat dance optimized":  "cat dance",
		"cat dance 1":          "cat dance",
		"1234":                 "1234",
		"cat dance 480x270 hq": "cat dance",
	}
	for in, want := range tests {
		if got := CoreName(in); got != want {
			t.Errorf("CoreName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCompareNames(t *testing.T) {
	t.Run("variant copy", func(t *testing.T) {
		s := CompareNames("cat_dance.gif", "cat_dance (2).gif")
		if s.Core != 95 {
			t.Fatalf("expected core match, got %+v", s)
		}
		if s.Best() < 95 {
			t.Fatalf("expected best >= 95, got %v", s.Best())
		}
	})
	t.Run("containment", func(t *testing.T) {
		s := CompareNames("sunset.gif", "beach_sunset_timelapse.gif")
		if s.Core != 85 {
			t.Fatalf("expected containment score, got %+v", s)
		}
	})
	t.Run("unrelated", func(t *testing.T) {
		s := CompareNames("zebra_run.gif", "moonlight.gif")
		if s.Best() >= 50 {
			t.Fatalf("expected low similarity, got %+v", s)
		}
	})
	t.Run("prefix", func(t *testing.T) {
		s := CompareNames("abcdefgh.gif", "abcdxxxx.gif")
		if s.Prefix != 50 || s.Positional != 50 {
			t.Fatalf("unexpected prefix scores %+v", s)
		}
		if s.Substring != 50 {
			t.Fatalf("unexpected substring score %v", s.Substring)
		}
	})
	t.Run("empty", func(t *testing.T) {
		if CompareNames(".gif", "a.gif").Best() != 0 {
			t.Fatal("expected zero for empty name")
		}
	})
}

func TestCommonPrefixLenRunes(t *testing.T) {
	if got := CommonPrefixLen("ééa", "ééb"); got != 2 {
		t.Fatalf("CommonPrefixLen = %d, want 2", got)
	}
}
