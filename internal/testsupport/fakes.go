package testsupport

import (
	"context"
	"image"
	"sync"
	"time"

	"gifdupes/internal/media"
	"gifdupes/internal/services"
)

// FakeProber returns canned metadata per path and counts calls.
type FakeProber struct {
	mu      sync.Mutex
	results map[string]media.Metadata
	errs    map[string]error
	calls   map[string]int
}

// NewFakeProber returns an empty FakeProber. Unknown paths fail as
// unanalyzable.
func NewFakeProber() *FakeProber {
	return &FakeProber{
		results: make(map[string]media.Metadata),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

// Set registers metadata for path.
func (p *FakeProber) Set(path string, meta media.Metadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[path] = meta
	delete(p.errs, path)
}

// Fail makes Probe return err for path.
func (p *FakeProber) Fail(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[path] = err
}

// Probe implements media.Prober.
func (p *FakeProber) Probe(ctx context.Context, path string) (media.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return media.Metadata{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[path]++
	if err, ok := p.errs[path]; ok {
		return media.Metadata{}, err
	}
	meta, ok := p.results[path]
	if !ok {
		return media.Metadata{}, services.Wrap(services.ErrUnanalyzable, "fake", "probe", path, nil)
	}
	return meta, nil
}

// Calls returns how often path was probed.
func (p *FakeProber) Calls(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

// TotalCalls returns the number of Probe calls across all paths.
func (p *FakeProber) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

// FakeSampler returns canned frames per path and counts calls. Delay, when
// set, blocks each call until it elapses or the context ends.
type FakeSampler struct {
	Delay time.Duration

	mu     sync.Mutex
	frames map[string][]image.Image
	errs   map[string]error
	calls  map[string]int
}

// NewFakeSampler returns an empty FakeSampler. Unknown paths yield no frames.
func NewFakeSampler() *FakeSampler {
	return &FakeSampler{
		frames: make(map[string][]image.Image),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// Set registers frames for path.
func (s *FakeSampler) Set(path string, frames []image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[path] = frames
	delete(s.errs, path)
}

// Fail makes Sample return err for path.
func (s *FakeSampler) Fail(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[path] = err
}

// Sample implements media.Sampler. The first n registered frames are
// returned.
func (s *FakeSampler) Sample(ctx context.Context, path string, n int, _ media.Metadata) ([]image.Image, error) {
	s.mu.Lock()
	s.calls[path]++
	err, failed := s.errs[path]
	frames := s.frames[path]
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if failed {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, services.Wrap(services.ErrUnanalyzable, "fake", "sample", "no frames for "+path, nil)
	}
	if n > 0 && n < len(frames) {
		frames = frames[:n]
	}
	return append([]image.Image(nil), frames...), nil
}

// Calls returns how often path was sampled.
func (s *FakeSampler) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// TotalCalls returns the number of Sample calls across all paths.
func (s *FakeSampler) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Reset clears call counters while keeping registered results.
func (s *FakeSampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}
