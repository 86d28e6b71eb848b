package imagehash

import "image"

// FrameSignal holds the signals of one sampled frame. OK is false when the
// frame could not be hashed, for example when it has no opaque pixels.
type FrameSignal struct {
	Hash  DHash
	Color Histogram
	OK    bool
}

// Frames computes signals for each image, keeping one entry per input so
// indices stay aligned with the sampled sequence.
func Frames(images []image.Image) []FrameSignal {
	out := make([]FrameSignal, len(images))
	for i, img := range images {
		hash, err := Difference(img)
		if err != nil {
			continue
		}
		hist, err := ColorHistogram(img)
		if err != nil {
			continue
		}
		out[i] = FrameSignal{Hash: hash, Color: hist, OK: true}
	}
	return out
}
