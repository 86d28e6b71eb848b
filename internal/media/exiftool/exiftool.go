// Package exiftool implements media.Prober with a long-lived exiftool
// process. It serves as the fallback for animated images whose containers
// ffprobe reports without frame counts.
package exiftool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"sync"

	goexif "github.com/barasher/go-exiftool"

	"gifdupes/internal/media"
	"gifdupes/internal/services"
)

var frameCountKeys = []string{"FrameCount", "AnimationFrames"}

// Prober runs exiftool in stay-open mode. The process starts on first use
// and is shared by all callers; requests are serialized.
type Prober struct {
	Binary string

	mu     sync.Mutex
	tool   *goexif.Exiftool
	broken bool
}

// NewProber returns a Prober for binary (default "exiftool").
func NewProber(binary string) *Prober {
	return &Prober{Binary: binary}
}

// Probe implements media.Prober.
func (p *Prober) Probe(ctx context.Context, path string) (media.Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tool, err := p.ensure()
	if err != nil {
		return media.Metadata{}, err
	}

	done := make(chan []goexif.FileMetadata, 1)
	go func() {
		done <- tool.ExtractMetadata(path)
	}()

	var infos []goexif.FileMetadata
	select {
	case infos = <-done:
	case <-ctx.Done():
		// The in-flight request still owns the process; retire it once the
		// answer arrives so the next call starts fresh.
		p.tool = nil
		go func() {
			<-done
			_ = tool.Close()
		}()
		return media.Metadata{}, services.Wrap(services.ErrExternalTool, "exiftool", "probe", path, ctx.Err())
	}

	if len(infos) == 0 {
		return media.Metadata{}, services.Wrap(services.ErrExternalTool, "exiftool", "probe", path, errors.New("no metadata returned"))
	}
	meta, err := Convert(infos[0])
	if err != nil {
		return media.Metadata{}, services.Wrap(services.ErrUnanalyzable, "exiftool", "probe", path, err)
	}
	return meta, nil
}

// Close stops the exiftool process if one is running.
func (p *Prober) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tool == nil {
		return nil
	}
	err := p.tool.Close()
	p.tool = nil
	return err
}

func (p *Prober) ensure() (*goexif.Exiftool, error) {
	if p.tool != nil {
		return p.tool, nil
	}
	if p.broken {
		return nil, services.Wrap(services.ErrToolUnavailable, "exiftool", "start", p.binary(), nil)
	}
	binary, err := exec.LookPath(p.binary())
	if err != nil {
		p.broken = true
		return nil, services.Wrap(services.ErrToolUnavailable, "exiftool", "start", p.binary(), err)
	}
	tool, err := goexif.NewExiftool(goexif.NoPrintConversion(), goexif.SetExiftoolBinaryPath(binary))
	if err != nil {
		p.broken = true
		return nil, services.Wrap(services.ErrToolUnavailable, "exiftool", "start", binary, err)
	}
	p.tool = tool
	return tool, nil
}

func (p *Prober) binary() string {
	if b := strings.TrimSpace(p.Binary); b != "" {
		return b
	}
	return "exiftool"
}

// Convert maps exiftool fields (numeric, -n mode) onto media.Metadata.
func Convert(info goexif.FileMetadata) (media.Metadata, error) {
	if info.Err != nil {
		return media.Metadata{}, info.Err
	}
	var meta media.Metadata
	for _, key := range frameCountKeys {
		if n, err := info.GetInt(key); err == nil && n > 0 {
			meta.FrameCount = int(n)
			break
		}
	}
	if seconds, err := info.GetFloat("Duration"); err == nil && seconds > 0 {
		meta.DurationMs = int64(math.Round(seconds * 1000))
	}
	if w, err := info.GetInt("ImageWidth"); err == nil {
		meta.Width = int(w)
	}
	if h, err := info.GetInt("ImageHeight"); err == nil {
		meta.Height = int(h)
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return media.Metadata{}, fmt.Errorf("missing image dimensions")
	}
	return meta.Derive(), nil
}
