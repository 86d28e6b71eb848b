package ffprobe

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gifdupes/internal/media"
	"gifdupes/internal/services"
)

// Prober implements media.Prober with the ffprobe binary.
type Prober struct {
	Binary      string
	CountFrames bool
}

// NewProber returns a Prober for binary (default "ffprobe").
func NewProber(binary string, countFrames bool) *Prober {
	return &Prober{Binary: binary, CountFrames: countFrames}
}

// Probe implements media.Prober.
func (p *Prober) Probe(ctx context.Context, path string) (media.Metadata, error) {
	result, err := Inspect(ctx, p.Binary, path, Options{CountFrames: p.CountFrames})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return media.Metadata{}, services.Wrap(services.ErrToolUnavailable, "ffprobe", "probe", path, err)
		}
		return media.Metadata{}, services.Wrap(services.ErrExternalTool, "ffprobe", "probe", path, err)
	}
	meta, err := result.Metadata()
	if err != nil {
		return media.Metadata{}, services.Wrap(services.ErrUnanalyzable, "ffprobe", "probe", path, err)
	}
	return meta, nil
}

// Metadata converts the probe result into media.Metadata.
func (r Result) Metadata() (media.Metadata, error) {
	stream, ok := r.VideoStream()
	if !ok {
		return media.Metadata{}, errors.New("no video stream")
	}
	seconds := r.DurationSeconds()
	if math.IsNaN(seconds) {
		return media.Metadata{}, fmt.Errorf("unparseable duration %q", r.Format.Duration)
	}
	meta := media.Metadata{
		FrameCount: stream.FrameCount(),
		DurationMs: int64(math.Round(seconds * 1000)),
		FPS:        stream.FrameRate(),
		Width:      stream.Width,
		Height:     stream.Height,
	}
	return meta.Derive(), nil
}
