package ffprobe

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"gifdupes/internal/services"
)

const gifProbe = `{
  "streams": [
    {"index": 0, "codec_name": "gif", "codec_type": "video", "width": 480, "height": 270,
     "r_frame_rate": "50/1", "avg_frame_rate": "20/1", "nb_read_frames": "60", "duration": "3.000000"}
  ],
  "format": {"filename": "clip.gif", "nb_streams": 1, "format_name": "gif", "duration": "3.000000", "size": "123456"}
}`

func TestParseGIFMetadata(t *testing.T) {
	result, err := Parse([]byte(gifProbe))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	meta, err := result.Metadata()
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.FrameCount != 60 || meta.DurationMs != 3000 || meta.Width != 480 || meta.Height != 270 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.FPS != 20 {
		t.Fatalf("expected avg frame rate 20, got %v", meta.FPS)
	}
	if result.SizeBytes() != 123456 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
}

func TestMetadataDerivesFrameCount(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "video", Width: 10, Height: 10, AvgFrameRate: "0/0", RFrameRate: "25/1"}},
		Format:  Format{Duration: "2.0"},
	}
	meta, err := result.Metadata()
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.FrameCount != 50 || meta.FPS != 25 {
		t.Fatalf("expected derived frame count, got %+v", meta)
	}
}

func TestMetadataRequiresVideoStream(t *testing.T) {
	result := Result{Streams: []Stream{{CodecType: "audio"}}}
	if _, err := result.Metadata(); err == nil {
		t.Fatal("expected error without video stream")
	}
}

func TestParseHelpersHandleInvalidNumbers(t *testing.T) {
	if !math.IsNaN(parseFloat("bad")) {
		t.Fatal("expected NaN for garbage")
	}
	if parseFloat("N/A") != 0 {
		t.Fatal("expected zero for N/A")
	}
	if parseRational("30000/1001") < 29.9 || parseRational("1/0") != 0 {
		t.Fatal("rational parsing wrong")
	}
	if (Stream{NBFrames: "x", NBReadFrames: ""}).FrameCount() != 0 {
		t.Fatal("expected zero frame count")
	}
}

func TestProbeMissingBinaryIsToolUnavailable(t *testing.T) {
	p := NewProber(filepath.Join(t.TempDir(), "no-such-ffprobe"), false)
	_, err := p.Probe(context.Background(), "/tmp/clip.gif")
	if !errors.Is(err, services.ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
}
