package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func floatsClose(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestDecodePCM16(t *testing.T) {
	raw := make([]byte, 6)
	binary.LittleEndian.PutUint16(raw[0:], uint16(0))
	binary.LittleEndian.PutUint16(raw[2:], uint16(16384))  // 0.5
	binary.LittleEndian.PutUint16(raw[4:], uint16(0x8000)) // -32768 => -1.0

	got, err := Decode(raw, Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16, Encoding: EncodingPCM})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []float32{0, 0.5, -1}
	for i := range want {
		if !floatsClose(got[i], want[i]) {
			t.Errorf("sample %d = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestDecodePCM32(t *testing.T) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw[0:], uint32(1<<30))      // 0.5
	binary.LittleEndian.PutUint32(raw[4:], uint32(0x80000000)) // -1.0

	got, err := Decode(raw, Format{SampleRate: 48000, Channels: 1, BitsPerSample: 32, Encoding: EncodingPCM})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !floatsClose(got[0], 0.5) || !floatsClose(got[1], -1) {
		t.Errorf("got %v, want [0.5 -1]", got)
	}
}

func TestDecodeFloat32Passthrough(t *testing.T) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-0.75))

	got, err := Decode(raw, Format{SampleRate: 48000, Channels: 2, BitsPerSample: 32, Encoding: EncodingFloat})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got[0] != 0.25 || got[1] != -0.75 {
		t.Errorf("got %v, want [0.25 -0.75]", got)
	}
}

func TestDecodeRejectsUnsupported(t *testing.T) {
	_, err := Decode(nil, Format{SampleRate: 48000, Channels: 2, BitsPerSample: 24, Encoding: EncodingPCM})
	if err == nil {
		t.Fatal("expected error for 24-bit PCM")
	}
}

func TestDownmixIdenticalChannels(t *testing.T) {
	// N identical channels must downmix to exactly the shared value.
	for _, channels := range []int{2, 4, 6} {
		in := make([]float32, 10*channels)
		for frame := 0; frame < 10; frame++ {
			v := float32(frame) * 0.1
			for ch := 0; ch < channels; ch++ {
				in[frame*channels+ch] = v
			}
		}
		out := DownmixMono(in, channels)
		if len(out) != 10 {
			t.Fatalf("channels=%d: len = %d, want 10", channels, len(out))
		}
		for frame, v := range out {
			if !floatsClose(v, float32(frame)*0.1) {
				t.Errorf("channels=%d frame %d = %f, want %f", channels, frame, v, float32(frame)*0.1)
			}
		}
	}
}

func TestDownmixAverages(t *testing.T) {
	out := DownmixMono([]float32{1, 0, -1, 0.5}, 2)
	if !floatsClose(out[0], 0.5) || !floatsClose(out[1], -0.25) {
		t.Errorf("got %v, want [0.5 -0.25]", out)
	}
}

func TestDownmixMonoPassthrough(t *testing.T) {
	in := []float32{0.1, 0.2}
	out := DownmixMono(in, 1)
	if &out[0] != &in[0] {
		t.Error("mono input should be returned unchanged")
	}
}

func TestResampleConstantInvariant(t *testing.T) {
	// A constant input must stay constant at any target rate.
	in := make([]float32, 480)
	for i := range in {
		in[i] = 0.37
	}
	for _, dst := range []int{8000, 16000, 44100, 96000} {
		out := Resample(in, 48000, dst)
		for i, v := range out {
			if !floatsClose(v, 0.37) {
				t.Fatalf("dst=%d sample %d = %f, want 0.37", dst, i, v)
			}
		}
	}
}

func TestResampleSameRatePassthrough(t *testing.T) {
	in := []float32{1, 2, 3}
	out := Resample(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("same-rate input should be returned unchanged")
	}
}

func TestResampleLength(t *testing.T) {
	in := make([]float32, 480) // 10ms at 48k
	out := Resample(in, 48000, 16000)
	if len(out) != 160 {
		t.Errorf("len = %d, want 160", len(out))
	}
}

func TestResampleHoldsFinalSample(t *testing.T) {
	// Upsampling reads past the last source index; it must hold, not panic.
	in := []float32{0, 1}
	out := Resample(in, 8000, 48000)
	if len(out) == 0 {
		t.Fatal("empty output")
	}
	last := out[len(out)-1]
	if last < 0 || last > 1 {
		t.Errorf("boundary sample %f outside source range", last)
	}
}

func TestPeak(t *testing.T) {
	if got := Peak([]float32{0.1, -0.9, 0.4}); !floatsClose(got, 0.9) {
		t.Errorf("Peak = %f, want 0.9", got)
	}
	if got := Peak(nil); got != 0 {
		t.Errorf("Peak(nil) = %f, want 0", got)
	}
}
