package testsupport

import (
	"bytes"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gifdupes/internal/imagehash"
)

// WriteFile fills the target path with size bytes of fill. A size <= 0
// writes a single byte.
func WriteFile(t testing.TB, path string, size int64, fill byte) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{fill}, int(size)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// SetModTime stamps path with ts.
func SetModTime(t testing.TB, path string, ts time.Time) {
	t.Helper()
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// Frame returns a deterministic pseudo-random frame the size of the dHash
// grid, so its hash is exactly the neighbour comparison of its pixels.
// Channel values stay within 16..239.
func Frame(seed uint64) *image.RGBA {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	img := image.NewRGBA(image.Rect(0, 0, imagehash.GridWidth, imagehash.GridHeight))
	for y := 0; y < imagehash.GridHeight; y++ {
		for x := 0; x < imagehash.GridWidth; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(16 + rng.IntN(224)),
				G: uint8(16 + rng.IntN(224)),
				B: uint8(16 + rng.IntN(224)),
				A: 255,
			})
		}
	}
	return img
}

// FrameSet returns n frames derived from seed.
func FrameSet(seed uint64, n int) []image.Image {
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = Frame(seed*1000 + uint64(i))
	}
	return frames
}

// Nudge returns a copy of img whose difference hash differs in exactly one
// bit: the top-left pixel is pushed to the opposite side of its right
// neighbour.
func Nudge(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	left := luma(out.RGBAAt(0, 0))
	right := luma(out.RGBAAt(1, 0))
	if left > right {
		out.SetRGBA(0, 0, color.RGBA{A: 255})
	} else {
		out.SetRGBA(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	}
	return out
}

// NudgeSet applies Nudge to every frame.
func NudgeSet(frames []image.Image) []image.Image {
	out := make([]image.Image, len(frames))
	for i, frame := range frames {
		rgba, ok := frame.(*image.RGBA)
		if !ok {
			rgba = image.NewRGBA(frame.Bounds())
			draw.Draw(rgba, rgba.Bounds(), frame, frame.Bounds().Min, draw.Src)
		}
		out[i] = Nudge(rgba)
	}
	return out
}

func luma(c color.RGBA) int {
	return 299*int(c.R) + 587*int(c.G) + 114*int(c.B)
}

// WriteAnimatedGIF encodes frames as an animated GIF with the Plan 9
// palette. The encoding is deterministic, so equal frames give equal bytes.
func WriteAnimatedGIF(t testing.TB, path string, frames []image.Image, delay int) {
	t.Helper()
	if len(frames) == 0 {
		t.Fatalf("WriteAnimatedGIF %s: no frames", path)
	}
	anim := &gif.GIF{}
	for _, frame := range frames {
		paletted := image.NewPaletted(frame.Bounds(), palette.Plan9)
		draw.Draw(paletted, paletted.Bounds(), frame, frame.Bounds().Min, draw.Src)
		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, delay)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		t.Fatalf("encode gif %s: %v", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
