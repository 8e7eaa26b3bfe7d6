package decode

import (
	"context"
	"testing"
)

func TestWindowClampsStartAndLength(t *testing.T) {
	samples := make([]float64, 1000) // 1000 samples at 100Hz = 10s
	for i := range samples {
		samples[i] = float64(i)
	}

	got := window(samples, 100, 2, 3) // seconds 2..5
	if len(got) != 300 {
		t.Fatalf("expected 300 samples (3s at 100Hz), got %d", len(got))
	}
	if got[0] != 200 {
		t.Fatalf("expected window to start at sample 200, got %v", got[0])
	}
}

func TestWindowToEndOfFileWhenLenUnset(t *testing.T) {
	samples := make([]float64, 1000)
	got := window(samples, 100, 5, 0)
	if len(got) != 500 {
		t.Fatalf("expected remaining 500 samples, got %d", len(got))
	}
}

func TestWindowClampsNegativeStart(t *testing.T) {
	samples := make([]float64, 100)
	got := window(samples, 100, -5, 0)
	if len(got) != 100 {
		t.Fatalf("expected negative start clamped to 0, got %d samples", len(got))
	}
}

func TestFileSourceSlidesFrameWithHop(t *testing.T) {
	fs := &FileSource{
		samples:    make([]float64, 20),
		sampleRate: 10,
		frameSize:  8,
		hop:        4,
	}
	ctx := context.Background()

	var frames []Frame
	for {
		f, ok, err := fs.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		frames = append(frames, f)
	}

	// frames start at 0,4,8 (end<=20); 12 would end at 20 too (12+8=20<=20) so 4 frames: 0,4,8,12
	if len(frames) != 4 {
		t.Fatalf("expected 4 overlapping frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Index != i {
			t.Fatalf("expected frame index %d, got %d", i, f.Index)
		}
		if len(f.Samples) != 8 {
			t.Fatalf("expected frame length 8, got %d", len(f.Samples))
		}
	}
}

func TestFileSourceRespectsCancellation(t *testing.T) {
	fs := &FileSource{samples: make([]float64, 100), sampleRate: 10, frameSize: 8, hop: 4}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := fs.Next(ctx)
	if err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
	if ok {
		t.Fatal("expected ok=false on cancellation")
	}
}

func TestDurationSeconds(t *testing.T) {
	fs := &FileSource{samples: make([]float64, 4410), sampleRate: 44100}
	if got := fs.DurationSeconds(); got != 0.1 {
		t.Fatalf("expected 0.1s duration, got %v", got)
	}
}
