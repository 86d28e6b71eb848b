package imagehash

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
)

const (
	// BinsPerChannel is the number of bins for each of R, G and B.
	BinsPerChannel = 16
	// Buckets is the total number of joint RGB buckets.
	Buckets = BinsPerChannel * BinsPerChannel * BinsPerChannel

	binShift = 4 // 256 / BinsPerChannel == 1<<binShift
)

// Histogram is an L1-normalized joint RGB histogram with Buckets entries.
// A nil Histogram means no color signal is available.
type Histogram []float32

// ColorHistogram builds a normalized histogram from img. Fully transparent
// pixels are ignored. A frame with no opaque pixels yields an error.
func ColorHistogram(img image.Image) (Histogram, error) {
	if img == nil {
		return nil, fmt.Errorf("histogram: nil image")
	}
	bounds := img.Bounds()
	counts := make([]float64, Buckets)
	var total float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if a == 0 {
				continue
			}
			if a != 0xffff {
				r = r * 0xffff / a
				g = g * 0xffff / a
				b = b * 0xffff / a
			}
			counts[bucketIndex(uint8(r>>8), uint8(g>>8), uint8(b>>8))]++
			total++
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("histogram: no opaque pixels")
	}
	hist := make(Histogram, Buckets)
	for i, c := range counts {
		hist[i] = float32(c / total)
	}
	return hist, nil
}

func bucketIndex(r, g, b uint8) int {
	return int(r>>binShift)<<8 | int(g>>binShift)<<4 | int(b>>binShift)
}

// Average returns the normalized mean of the non-empty histograms in hs.
func Average(hs []Histogram) Histogram {
	sum := make([]float64, Buckets)
	used := 0
	for _, h := range hs {
		if len(h) != Buckets {
			continue
		}
		used++
		for i, v := range h {
			sum[i] += float64(v)
		}
	}
	if used == 0 {
		return nil
	}
	var total float64
	for _, v := range sum {
		total += v
	}
	if total == 0 {
		return nil
	}
	out := make(Histogram, Buckets)
	for i, v := range sum {
		out[i] = float32(v / total)
	}
	return out
}

// Correlation returns the Pearson correlation of a and b in [-1, 1].
// Two identical flat histograms correlate at 1; mismatched lengths at 0.
func Correlation(a, b Histogram) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	n := float64(len(a))
	var sumA, sumB float64
	for i := range a {
		sumA += float64(a[i])
		sumB += float64(b[i])
	}
	meanA, meanB := sumA/n, sumB/n

	var cov, varA, varB float64
	for i := range a {
		da := float64(a[i]) - meanA
		db := float64(b[i]) - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		if varA == varB {
			return 1
		}
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

type sparseHistogram struct {
	Index  []int     `json:"i"`
	Weight []float32 `json:"w"`
}

// MarshalJSON stores only non-zero buckets.
func (h Histogram) MarshalJSON() ([]byte, error) {
	if len(h) == 0 {
		return []byte("null"), nil
	}
	if len(h) != Buckets {
		return nil, fmt.Errorf("histogram: invalid length %d", len(h))
	}
	sparse := sparseHistogram{Index: []int{}, Weight: []float32{}}
	for i, v := range h {
		if v == 0 {
			continue
		}
		sparse.Index = append(sparse.Index, i)
		sparse.Weight = append(sparse.Weight, v)
	}
	return json.Marshal(sparse)
}

// UnmarshalJSON restores a histogram written by MarshalJSON.
func (h *Histogram) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*h = nil
		return nil
	}
	var sparse sparseHistogram
	if err := json.Unmarshal(data, &sparse); err != nil {
		return fmt.Errorf("histogram: %w", err)
	}
	if len(sparse.Index) != len(sparse.Weight) {
		return fmt.Errorf("histogram: %d indices for %d weights", len(sparse.Index), len(sparse.Weight))
	}
	out := make(Histogram, Buckets)
	for i, idx := range sparse.Index {
		if idx < 0 || idx >= Buckets {
			return fmt.Errorf("histogram: bucket %d out of range", idx)
		}
		out[idx] = sparse.Weight[i]
	}
	*h = out
	return nil
}
