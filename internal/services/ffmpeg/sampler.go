package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gifdupes/internal/media"
	"gifdupes/internal/services"
)

var (
	commandContext = exec.CommandContext
	lookPath       = exec.LookPath
)

const (
	defaultBinary       = "ffmpeg"
	defaultMaxDimension = 256
	framePattern        = "frame_%04d.png"
	// unknownShapeFrames caps decoding when neither frame count nor duration
	// is known; the sample is then spread across the decoded frames.
	unknownShapeFrames = 600
)

// Option configures the Sampler.
type Option func(*Sampler)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(s *Sampler) {
		if binary = strings.TrimSpace(binary); binary != "" {
			s.binary = binary
		}
	}
}

// WithMaxDimension bounds the longer edge of sampled frames.
func WithMaxDimension(px int) Option {
	return func(s *Sampler) {
		if px > 0 {
			s.maxDimension = px
		}
	}
}

// WithTempDir sets the parent directory for per-call frame directories.
func WithTempDir(dir string) Option {
	return func(s *Sampler) {
		s.tempDir = strings.TrimSpace(dir)
	}
}

// Sampler extracts evenly spaced frames with ffmpeg.
type Sampler struct {
	binary       string
	maxDimension int
	tempDir      string
}

// NewSampler constructs a Sampler using defaults.
func NewSampler(opts ...Option) *Sampler {
	s := &Sampler{binary: defaultBinary, maxDimension: defaultMaxDimension}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample implements media.Sampler.
func (s *Sampler) Sample(ctx context.Context, path string, n int, meta media.Metadata) ([]image.Image, error) {
	if n <= 0 {
		return nil, fmt.Errorf("ffmpeg sample: invalid frame count %d", n)
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ffmpeg sample: empty path")
	}
	if _, err := lookPath(s.binary); err != nil {
		return nil, services.Wrap(services.ErrToolUnavailable, "ffmpeg", "sample", s.binary, err)
	}

	dir, err := os.MkdirTemp(s.tempDir, "gifdupes-frames-")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg sample: create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	args := s.buildArgs(path, n, meta, filepath.Join(dir, framePattern))
	cmd := commandContext(ctx, s.binary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("ffmpeg sample %s: %w", path, ctxErr)
		}
		return nil, services.Wrap(services.ErrExternalTool, "ffmpeg", "sample", path,
			fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output))))
	}

	frames, err := readFrames(dir, n)
	if err != nil {
		return nil, services.Wrap(services.ErrUnanalyzable, "ffmpeg", "decode frames", path, err)
	}
	if len(frames) == 0 {
		return nil, services.Wrap(services.ErrUnanalyzable, "ffmpeg", "sample", path, errors.New("no frames decoded"))
	}
	return frames, nil
}

// buildArgs selects frames by index when the frame count is known and by a
// uniform output rate when only the duration is. Without either, up to
// unknownShapeFrames frames are decoded and readFrames spreads the sample.
func (s *Sampler) buildArgs(path string, n int, meta media.Metadata, output string) []string {
	scale := fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease", s.maxDimension, s.maxDimension)

	limit := n
	var filter string
	if indices := media.SampleIndices(meta.FrameCount, n); len(indices) > 0 {
		terms := make([]string, len(indices))
		for i, idx := range indices {
			terms[i] = "eq(n\\," + strconv.Itoa(idx) + ")"
		}
		filter = "select='" + strings.Join(terms, "+") + "'," + scale
	} else if meta.DurationMs > 0 {
		rate := float64(n) * 1000 / float64(meta.DurationMs)
		filter = "fps=" + strconv.FormatFloat(rate, 'f', 6, 64) + "," + scale
	} else {
		filter = scale
		limit = max(n, unknownShapeFrames)
	}

	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", path,
		"-an",
		"-sn",
		"-vf", filter,
		"-fps_mode", "vfr",
		"-frames:v", strconv.Itoa(limit),
		output,
	}
}

// readFrames decodes the extracted frames in order. When ffmpeg wrote more
// than limit frames, limit of them are taken evenly across the sequence.
func readFrames(dir string, limit int) ([]image.Image, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	if len(matches) > limit {
		picked := make([]string, 0, limit)
		for _, idx := range media.SampleIndices(len(matches), limit) {
			picked = append(picked, matches[idx])
		}
		matches = picked
	}
	frames := make([]image.Image, 0, len(matches))
	for _, match := range matches {
		img, err := decodePNG(match)
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return frames, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
