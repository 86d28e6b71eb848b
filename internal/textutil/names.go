package textutil

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var separatorPattern = regexp.MustCompile(`[\s_\-.]+`)

// variantSuffixes strip markers that tools and people append to copies and
// re-encodes of the same clip. They are applied repeatedly until none match.
var variantSuffixes = []*regexp.Regexp{
	regexp.MustCompile(` ?\(\d+\)$`),
	regexp.MustCompile(` (copy|kopie|copie)( \d+)?$`),
	regexp.MustCompile(` v\d+$`),
	regexp.MustCompile(` (final|edit|edited|new|old|alt|small|large|hq|lq|optimized|optimised|compressed|lossy|resized)$`),
	regexp.MustCompile(` \d{3,4}p$`),
	regexp.MustCompile(` \d+x\d+$`),
	regexp.MustCompile(` \d+$`),
}

// NormalizeName prepares a file name for comparison. The extension is
// removed, accents are stripped, case is folded and separator runs become a
// single space.
func NormalizeName(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	stripped, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), base)
	if err == nil {
		base = stripped
	}
	base = cases.Fold().String(base)
	base = separatorPattern.ReplaceAllString(base, " ")
	return strings.TrimSpace(base)
}

// CoreName strips variant suffixes such as "(2)", "copy", "v3", "final",
// "720p" or trailing counters from a normalized name.
func CoreName(normalized string) string {
	core := strings.TrimSpace(normalized)
	for {
		before := core
		for _, pattern := range variantSuffixes {
			if trimmed := strings.TrimSpace(pattern.ReplaceAllString(core, "")); trimmed != "" {
				core = trimmed
			}
		}
		if core == before {
			return core
		}
	}
}

// CommonPrefixLen counts the leading runes a and b share.
func CommonPrefixLen(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := min(len(ra), len(rb))
	for i := 0; i < n; i++ {
		if ra[i] != rb[i] {
			return i
		}
	}
	return n
}

// NameScores holds per-strategy similarity percentages (0..100).
type NameScores struct {
	Prefix     float64
	Core       float64
	Substring  float64
	Words      float64
	Positional float64
}

// Best returns the highest strategy score.
func (s NameScores) Best() float64 {
	return max(s.Prefix, s.Core, s.Substring, s.Words, s.Positional)
}

// CompareNames scores two raw file names. Both are normalized first.
func CompareNames(a, b string) NameScores {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return NameScores{}
	}
	ra, rb := []rune(na), []rune(nb)
	longest := float64(max(len(ra), len(rb)))

	return NameScores{
		Prefix:     100 * float64(CommonPrefixLen(na, nb)) / longest,
		Core:       coreScore(CoreName(na), CoreName(nb)),
		Substring:  100 * 2 * float64(longestCommonSubstring(ra, rb)) / float64(len(ra)+len(rb)),
		Words:      100 * WordSimilarity(na, nb),
		Positional: 100 * float64(positionalMatches(ra, rb)) / longest,
	}
}

func coreScore(a, b string) float64 {
	switch {
	case a == "" || b == "":
		return 0
	case a == b:
		return 95
	}
	shorter, longer := a, b
	if len([]rune(shorter)) > len([]rune(longer)) {
		shorter, longer = longer, shorter
	}
	if len([]rune(shorter)) >= 3 && strings.Contains(longer, shorter) {
		return 85
	}
	return 0
}

func longestCommonSubstring(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				best = max(best, curr[j])
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return best
}

func positionalMatches(a, b []rune) int {
	n := min(len(a), len(b))
	count := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			count++
		}
	}
	return count
}
