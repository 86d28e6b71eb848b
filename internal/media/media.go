package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"gifdupes/internal/services"
)

// Metadata describes the temporal and spatial shape of a media file.
type Metadata struct {
	FrameCount int     `json:"frame_count"`
	DurationMs int64   `json:"duration_ms"`
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// Complete reports whether every field carries a usable value.
func (m Metadata) Complete() bool {
	return m.FrameCount > 0 && m.DurationMs > 0 && m.FPS > 0 && m.Width > 0 && m.Height > 0
}

// Analyzable reports whether the file has enough shape to be sampled.
func (m Metadata) Analyzable() bool {
	return m.DurationMs > 0 && m.Width > 0 && m.Height > 0
}

// fill copies fields that are zero in m from other.
func (m Metadata) fill(other Metadata) Metadata {
	if m.FrameCount <= 0 {
		m.FrameCount = other.FrameCount
	}
	if m.DurationMs <= 0 {
		m.DurationMs = other.DurationMs
	}
	if m.FPS <= 0 {
		m.FPS = other.FPS
	}
	if m.Width <= 0 || m.Height <= 0 {
		m.Width, m.Height = other.Width, other.Height
	}
	return m
}

// Derive fills FPS or FrameCount from the other two fields when possible.
func (m Metadata) Derive() Metadata {
	if m.DurationMs <= 0 {
		return m
	}
	seconds := float64(m.DurationMs) / 1000
	if m.FPS <= 0 && m.FrameCount > 0 {
		m.FPS = float64(m.FrameCount) / seconds
	}
	if m.FrameCount <= 0 && m.FPS > 0 {
		m.FrameCount = int(m.FPS*seconds + 0.5)
	}
	return m
}

// Prober returns metadata for a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (Metadata, error)
}

// Sampler returns n decoded frames spaced evenly across the file.
type Sampler interface {
	Sample(ctx context.Context, path string, n int, meta Metadata) ([]image.Image, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, path string) (Metadata, error)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, path string) (Metadata, error) {
	return f(ctx, path)
}

// ChainProber consults probers in order. The first successful result wins;
// fields it leaves empty are filled from later probers when they succeed.
type ChainProber struct {
	Probers []Prober
}

// NewChainProber builds a chain skipping nil entries.
func NewChainProber(probers ...Prober) *ChainProber {
	chain := &ChainProber{}
	for _, p := range probers {
		if p != nil {
			chain.Probers = append(chain.Probers, p)
		}
	}
	return chain
}

// Probe implements Prober.
func (c *ChainProber) Probe(ctx context.Context, path string) (Metadata, error) {
	if c == nil || len(c.Probers) == 0 {
		return Metadata{}, services.Wrap(services.ErrToolUnavailable, "probe", "chain", "no probers configured", nil)
	}
	var (
		result Metadata
		found  bool
		errs   []error
	)
	for _, p := range c.Probers {
		meta, err := p.Probe(ctx, path)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if !found {
			result, found = meta, true
		} else {
			result = result.fill(meta)
		}
		result = result.Derive()
		if result.Complete() {
			break
		}
	}
	if found {
		return result, nil
	}
	return Metadata{}, chainError(errs)
}

// chainError keeps ErrToolUnavailable only when every prober was missing so a
// real probe failure is never mistaken for a missing tool.
func chainError(errs []error) error {
	joined := errors.Join(errs...)
	for _, err := range errs {
		if !errors.Is(err, services.ErrToolUnavailable) {
			if errors.Is(err, services.ErrTimeout) {
				return joined
			}
			return services.Wrap(services.ErrExternalTool, "probe", "chain", "all probers failed", joined)
		}
	}
	return joined
}

type timeoutProber struct {
	next    Prober
	timeout time.Duration
}

// WithProbeTimeout bounds each Probe call by timeout. A zero timeout
// returns p unchanged.
func WithProbeTimeout(p Prober, timeout time.Duration) Prober {
	if timeout <= 0 || p == nil {
		return p
	}
	return &timeoutProber{next: p, timeout: timeout}
}

func (t *timeoutProber) Probe(ctx context.Context, path string) (Metadata, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	meta, err := t.next.Probe(callCtx, path)
	if err != nil {
		return Metadata{}, classifyDeadline(callCtx, ctx, "probe", t.timeout, err)
	}
	return meta, nil
}

type timeoutSampler struct {
	next    Sampler
	timeout time.Duration
}

// WithSampleTimeout bounds each Sample call by timeout. A zero timeout
// returns s unchanged.
func WithSampleTimeout(s Sampler, timeout time.Duration) Sampler {
	if timeout <= 0 || s == nil {
		return s
	}
	return &timeoutSampler{next: s, timeout: timeout}
}

func (t *timeoutSampler) Sample(ctx context.Context, path string, n int, meta Metadata) ([]image.Image, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	frames, err := t.next.Sample(callCtx, path, n, meta)
	if err != nil {
		return nil, classifyDeadline(callCtx, ctx, "sample", t.timeout, err)
	}
	return frames, nil
}

// classifyDeadline tags err as a timeout when the per-call deadline fired
// while the parent context was still live.
func classifyDeadline(callCtx, parent context.Context, operation string, timeout time.Duration, err error) error {
	if errors.Is(err, services.ErrTimeout) {
		return err
	}
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "media", operation, fmt.Sprintf("exceeded %s", timeout), err)
	}
	return err
}

// SampleIndices returns n frame indices spread evenly across frameCount
// frames, taking the centre of each of n equal segments. Fewer indices are
// returned when the file has fewer than n frames.
func SampleIndices(frameCount, n int) []int {
	if frameCount <= 0 || n <= 0 {
		return nil
	}
	if n > frameCount {
		n = frameCount
	}
	indices := make([]int, 0, n)
	last := -1
	for i := 0; i < n; i++ {
		idx := int((float64(i) + 0.5) * float64(frameCount) / float64(n))
		if idx >= frameCount {
			idx = frameCount - 1
		}
		if idx == last {
			continue
		}
		indices = append(indices, idx)
		last = idx
	}
	return indices
}
