package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decode converts raw capture bytes to interleaved float32 samples in [-1, 1].
// Supports 16/32-bit integer PCM and 32-bit IEEE float. Trailing bytes that do
// not fill a whole sample are dropped.
func Decode(raw []byte, f Format) ([]float32, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("audio: unsupported format %s", f)
	}

	bytesPerSample := f.BitsPerSample / 8
	n := len(raw) / bytesPerSample
	out := make([]float32, n)

	switch {
	case f.Encoding == EncodingFloat:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case f.BitsPerSample == 16:
		for i := 0; i < n; i++ {
			s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			out[i] = float32(s) / 32768.0
		}
	default: // 32-bit integer PCM
		for i := 0; i < n; i++ {
			s := int32(binary.LittleEndian.Uint32(raw[i*4:]))
			out[i] = float32(float64(s) / 2147483648.0)
		}
	}
	return out, nil
}

// DownmixMono reduces interleaved multi-channel samples to mono by taking the
// arithmetic mean across channels. A mono input is returned unchanged.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += samples[base+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate by linear
// interpolation between the two nearest source samples. The final source
// sample is held at the boundary rather than read past the end.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	n := int(float64(len(samples)) / ratio)
	if n == 0 {
		n = 1
	}
	out := make([]float32, n)

	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// Peak returns the largest absolute sample amplitude.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
