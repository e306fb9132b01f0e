// Package audio normalizes captured audio into the pipeline's canonical
// form: mono float32 samples in [-1, 1] at a single configured rate.
package audio

import "fmt"

// Encoding identifies how raw capture bytes encode a sample.
type Encoding int

const (
	EncodingPCM Encoding = iota // signed integer PCM, little-endian
	EncodingFloat               // 32-bit IEEE float
)

// Format describes the wave format negotiated with the capture stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Encoding      Encoding
}

// BlockAlign returns the byte size of one multi-channel sample frame.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

func (f Format) String() string {
	enc := "pcm"
	if f.Encoding == EncodingFloat {
		enc = "float"
	}
	return fmt.Sprintf("%dHz/%dch/%dbit %s", f.SampleRate, f.Channels, f.BitsPerSample, enc)
}

// Valid reports whether the format is one the decoder supports.
func (f Format) Valid() bool {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return false
	}
	switch f.Encoding {
	case EncodingPCM:
		return f.BitsPerSample == 16 || f.BitsPerSample == 32
	case EncodingFloat:
		return f.BitsPerSample == 32
	}
	return false
}
