package textutil

import (
	"math"
	"regexp"
	"unicode"
)

var wordSplitPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Words splits a name into lowercase words. Single runes and pure numbers are
// dropped; counters and frame sizes carry no naming signal.
func Words(name string) []string {
	raw := wordSplitPattern.Split(NormalizeName(name), -1)
	words := make([]string, 0, len(raw))
	for _, w := range raw {
		if len([]rune(w)) < 2 || isNumber(w) {
			continue
		}
		words = append(words, w)
	}
	return words
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// WordSimilarity is the cosine similarity (0..1) of the word counts of two
// names. Word order does not matter.
func WordSimilarity(a, b string) float64 {
	wa, wb := wordCounts(a), wordCounts(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	var dot, na, nb float64
	for w, c := range wa {
		na += float64(c * c)
		dot += float64(c * wb[w])
	}
	for _, c := range wb {
		nb += float64(c * c)
	}
	if dot == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

func wordCounts(name string) map[string]int {
	words := Words(name)
	if len(words) == 0 {
		return nil
	}
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}
	return counts
}
