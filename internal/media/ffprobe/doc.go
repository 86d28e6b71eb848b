// Package ffprobe provides a typed wrapper around ffprobe JSON output and a
// media.Prober built on it.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual stream properties including frame counts and rates
//   - Prober: media.Prober backed by the ffprobe binary
//
// Animated GIFs rarely carry nb_frames in their container, so the Prober can
// ask ffprobe to count decoded frames (-count_frames) at the price of a full
// decode.
package ffprobe
