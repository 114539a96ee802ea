package audio

import "math"

// Float32ToPCM16LE converts normalized float samples to 16-bit little-endian
// PCM, the format the recognizer upstream expects. Samples are clamped to
// [-1.0, 1.0] before scaling so that clipped input cannot overflow int16.
func Float32ToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

// PCM16LEToFloat32 converts 16-bit little-endian PCM back to normalized float
// samples. A trailing odd byte is ignored.
func PCM16LEToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32767
	}
	return out
}

// RMS returns the root-mean-square loudness of the given samples, in [0, 1]
// for normalized input. Returns 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
