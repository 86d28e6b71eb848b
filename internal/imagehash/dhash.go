package imagehash

import (
	"fmt"
	"image"
	"math/bits"
	"strconv"

	"golang.org/x/image/draw"
)

const (
	// GridWidth is one wider than GridHeight so each row yields eight
	// neighbour comparisons.
	GridWidth  = 9
	GridHeight = 8
	// HashBits is the number of bits in a DHash.
	HashBits = (GridWidth - 1) * GridHeight
)

// DHash is a 64-bit difference hash. Bit order is row-major starting at the
// most significant bit.
type DHash uint64

// Difference computes the difference hash of img. Each bit is set when a
// pixel of the downscaled grid is brighter than its right-hand neighbour.
func Difference(img image.Image) (DHash, error) {
	if img == nil {
		return 0, fmt.Errorf("dhash: nil image")
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return 0, fmt.Errorf("dhash: empty image")
	}

	grid := image.NewRGBA(image.Rect(0, 0, GridWidth, GridHeight))
	draw.CatmullRom.Scale(grid, grid.Bounds(), img, bounds, draw.Src, nil)

	var hash DHash
	for y := 0; y < GridHeight; y++ {
		for x := 0; x < GridWidth-1; x++ {
			hash <<= 1
			if luminance(grid, x, y) > luminance(grid, x+1, y) {
				hash |= 1
			}
		}
	}
	return hash, nil
}

// luminance returns ITU-R BT.601 luma scaled to 0..255000.
func luminance(img *image.RGBA, x, y int) int {
	offset := img.PixOffset(x, y)
	r := int(img.Pix[offset])
	g := int(img.Pix[offset+1])
	b := int(img.Pix[offset+2])
	return 299*r + 587*g + 114*b
}

// Hamming returns the number of differing bits between a and b.
func Hamming(a, b DHash) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// String renders the hash as 16 lowercase hex digits.
func (h DHash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// MarshalText implements encoding.TextMarshaler.
func (h DHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *DHash) UnmarshalText(text []byte) error {
	value, err := strconv.ParseUint(string(text), 16, 64)
	if err != nil {
		return fmt.Errorf("dhash: parse %q: %w", string(text), err)
	}
	*h = DHash(value)
	return nil
}

// ParseDHash parses the hex form produced by String.
func ParseDHash(value string) (DHash, error) {
	var h DHash
	err := h.UnmarshalText([]byte(value))
	return h, err
}

// SequenceEqual reports whether a and b hold the same hashes in the same
// order. Empty sequences are never equal.
func SequenceEqual(a, b []DHash) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MeanHamming returns the average Hamming distance over the overlapping
// prefix of a and b, or -1 when there is no overlap.
func MeanHamming(a, b []DHash) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return -1
	}
	total := 0
	for i := 0; i < n; i++ {
		total += Hamming(a[i], b[i])
	}
	return float64(total) / float64(n)
}
