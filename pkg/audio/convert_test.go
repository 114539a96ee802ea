package audio

import (
	"math"
	"testing"
)

func TestFloat32ToPCM16LE(t *testing.T) {
	pcm := Float32ToPCM16LE([]float32{0, 1, -1, 0.5})
	if len(pcm) != 8 {
		t.Fatalf("len = %d, want 8", len(pcm))
	}
	samples := PCM16LEToFloat32(pcm)
	want := []float32{0, 1, -1, 0.5}
	for i, w := range want {
		if math.Abs(float64(samples[i]-w)) > 1.0/32767 {
			t.Errorf("sample %d = %v, want ~%v", i, samples[i], w)
		}
	}
}

func TestFloat32ToPCM16LE_Clamps(t *testing.T) {
	pcm := Float32ToPCM16LE([]float32{2.0, -2.0})
	samples := PCM16LEToFloat32(pcm)
	if samples[0] < 0.99 {
		t.Errorf("over-range sample decoded to %v, want ~1", samples[0])
	}
	if samples[1] > -0.99 {
		t.Errorf("under-range sample decoded to %v, want ~-1", samples[1])
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS([]float32{0, 0, 0}); got != 0 {
		t.Errorf("RMS of silence = %v, want 0", got)
	}
	got := RMS([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS of ±0.5 square = %v, want 0.5", got)
	}
}
