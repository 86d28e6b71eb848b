// Package imagehash computes compact perceptual signals for decoded frames.
//
// This package has no gifdupes-specific dependencies and could be extracted
// as a standalone library.
//
// Signals:
//   - DHash: 64-bit difference hash over a 9x8 luminance grid
//   - Histogram: joint RGB histogram with 16 bins per channel (4096 buckets)
//   - FrameSignal: both of the above for one frame, index-aligned by Frames
//
// Comparison helpers:
//   - Hamming: differing bits between two hashes
//   - Correlation: Pearson correlation between two histograms
package imagehash
