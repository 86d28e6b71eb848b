package dupe

import "strings"

// pairSeparator is the ASCII unit separator, which never appears in paths
// produced by the walker.
const pairSeparator = "\x1f"

// PairKey canonically identifies an unordered pair of files.
type PairKey string

// NewPairKey orders the two paths lexicographically so that
// NewPairKey(a, b) == NewPairKey(b, a).
func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey(a + pairSeparator + b)
}

// Paths returns the two paths, smaller first.
func (k PairKey) Paths() (string, string) {
	a, b, _ := strings.Cut(string(k), pairSeparator)
	return a, b
}

// String renders the key for humans.
func (k PairKey) String() string {
	a, b := k.Paths()
	return a + " <> " + b
}

// Pair is an ordered view of two records under comparison, A holding the
// lexicographically smaller path.
type Pair struct {
	A FileRecord
	B FileRecord
}

// NewPair orders a and b to match their PairKey.
func NewPair(a, b FileRecord) Pair {
	if b.Path < a.Path {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Key returns the canonical pair key.
func (p Pair) Key() PairKey {
	return NewPairKey(p.A.Path, p.B.Path)
}
