package audio

import (
	"testing"
	"time"
)

func frame(samples ...float32) AudioFrame {
	return AudioFrame{Samples: samples, SampleRate: DefaultSampleRate, Timestamp: time.Now()}
}

func TestFrameBuffer_DrainMovesEverythingOut(t *testing.T) {
	var fb FrameBuffer
	fb.Append(frame(0.1, 0.2))
	fb.Append(frame(0.3))

	if got := fb.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}

	samples := fb.Drain()
	if len(samples) != 3 {
		t.Fatalf("Drain returned %d samples, want 3", len(samples))
	}
	if samples[0] != 0.1 || samples[1] != 0.2 || samples[2] != 0.3 {
		t.Errorf("Drain returned %v, want frames in append order", samples)
	}

	if got := fb.Len(); got != 0 {
		t.Errorf("Len after Drain = %d, want 0", got)
	}
	if got := fb.Drain(); got != nil {
		t.Errorf("second Drain = %v, want nil", got)
	}
}

func TestFrameBuffer_LatestLevel(t *testing.T) {
	var fb FrameBuffer
	if got := fb.LatestLevel(); got != 0 {
		t.Errorf("LatestLevel on empty buffer = %v, want 0", got)
	}
	fb.Append(frame(0, 0))
	fb.Append(frame(0.5, -0.5))
	got := fb.LatestLevel()
	if got < 0.49 || got > 0.51 {
		t.Errorf("LatestLevel = %v, want ~0.5 from the most recent frame", got)
	}
}

func TestFrameBuffer_Reset(t *testing.T) {
	var fb FrameBuffer
	fb.Append(frame(0.1))
	fb.Reset()
	if got := fb.Len(); got != 0 {
		t.Errorf("Len after Reset = %d, want 0", got)
	}
}
