package segment

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/echosub/echosub/internal/audio"
	"github.com/echosub/echosub/internal/vad"
)

// scriptedModel replays a fixed probability sequence, one value per window.
type scriptedModel struct {
	probs []float32
	calls int
}

func (m *scriptedModel) Infer(window, state []float32) (float32, []float32, error) {
	if m.calls >= len(m.probs) {
		return 0, state, nil
	}
	p := m.probs[m.calls]
	m.calls++
	return p, state, nil
}

func repeat(p float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func windowFrame() audio.Frame {
	return audio.Frame{Samples: make([]float32, vad.WindowSize), SampleRate: vad.SampleRate}
}

// feedWindows pushes n windows worth of audio through the segmenter.
func feedWindows(t *testing.T, s *Segmenter, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.ProcessFrame(windowFrame()); err != nil {
			t.Fatalf("ProcessFrame window %d: %v", i, err)
		}
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Sensitivity = 0.5 // entry threshold 0.5
	cfg.SilenceTimeout = 500 * time.Millisecond
	cfg.MinSpeech = 300 * time.Millisecond
	cfg.MaxSpeech = 15 * time.Second
	return cfg
}

func TestSilenceNeverOpensSegment(t *testing.T) {
	var emitted []Segment
	model := &scriptedModel{probs: repeat(0, 100)}
	s := New(testConfig(), model, func(seg Segment) { emitted = append(emitted, seg) })

	feedWindows(t, s, 100)
	s.Flush()

	if len(emitted) != 0 {
		t.Fatalf("silence produced %d segments", len(emitted))
	}
}

func TestSpeechThenSilenceEmitsOneSegment(t *testing.T) {
	// 20 voiced windows (0.9) then 40 silent windows; window = 32ms, so the
	// voiced run is 640ms. Exactly one segment, trimmed to the voiced run.
	var emitted []Segment
	probs := append(repeat(0.9, 20), repeat(0, 40)...)
	s := New(testConfig(), &scriptedModel{probs: probs}, func(seg Segment) { emitted = append(emitted, seg) })

	feedWindows(t, s, 60)

	if len(emitted) != 1 {
		t.Fatalf("got %d segments, want 1", len(emitted))
	}
	seg := emitted[0]
	if seg.Start != 0 {
		t.Errorf("Start = %f, want 0 (leading edge kept)", seg.Start)
	}
	if math.Abs(seg.Duration()-0.640) > 0.04 {
		t.Errorf("Duration = %f, want ~0.640", seg.Duration())
	}
	if seg.ID == "" {
		t.Error("segment has no id")
	}
	if len(seg.Samples) == 0 {
		t.Error("segment has no samples")
	}
}

func TestMinDurationRejection(t *testing.T) {
	// 5 voiced windows = 160ms, below the 300ms minimum.
	var emitted []Segment
	probs := append(repeat(0.9, 5), repeat(0, 60)...)
	s := New(testConfig(), &scriptedModel{probs: probs}, func(seg Segment) { emitted = append(emitted, seg) })

	feedWindows(t, s, 65)

	if len(emitted) != 0 {
		t.Fatalf("short burst emitted %d segments, want 0", len(emitted))
	}
}

func TestMaxDurationCutsSegments(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSpeech = time.Second

	var emitted []Segment
	probs := append(repeat(0.9, 100), repeat(0, 60)...)
	s := New(cfg, &scriptedModel{probs: probs}, func(seg Segment) { emitted = append(emitted, seg) })

	feedWindows(t, s, 160)

	if len(emitted) < 3 {
		t.Fatalf("got %d segments, want >= 3 from 3.2s of speech at 1s cap", len(emitted))
	}
	for i, seg := range emitted {
		if seg.Duration() > 1.1 {
			t.Errorf("segment %d duration %f exceeds cap", i, seg.Duration())
		}
	}
}

func TestBriefDipsDoNotSplitSegment(t *testing.T) {
	// A short probability dip mid-speech must not end the segment: the
	// smoothed signal stays above the accumulation bound.
	var emitted []Segment
	probs := append(repeat(0.9, 15), repeat(0.1, 3)...)
	probs = append(probs, repeat(0.9, 15)...)
	probs = append(probs, repeat(0, 60)...)
	s := New(testConfig(), &scriptedModel{probs: probs}, func(seg Segment) { emitted = append(emitted, seg) })

	feedWindows(t, s, len(probs))

	if len(emitted) != 1 {
		t.Fatalf("got %d segments, want 1 (dip split the segment)", len(emitted))
	}
}

func TestFlushEmitsOpenSegment(t *testing.T) {
	var emitted []Segment
	s := New(testConfig(), &scriptedModel{probs: repeat(0.9, 20)}, func(seg Segment) { emitted = append(emitted, seg) })

	feedWindows(t, s, 20)
	if len(emitted) != 0 {
		t.Fatal("segment emitted before flush")
	}
	s.Flush()
	if len(emitted) != 1 {
		t.Fatalf("flush emitted %d segments, want 1", len(emitted))
	}

	// Flush with nothing open is a no-op.
	s.Flush()
	if len(emitted) != 1 {
		t.Fatal("idle flush emitted a segment")
	}
}

func TestResamplesForeignRate(t *testing.T) {
	// Frames at 32kHz are halved to the internal 16kHz rate: 1024 samples
	// in, one 512-sample window scored.
	model := &scriptedModel{probs: repeat(0.9, 10)}
	s := New(testConfig(), model, func(Segment) {})

	frame := audio.Frame{Samples: make([]float32, 1024), SampleRate: 32000}
	if err := s.ProcessFrame(frame); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if model.calls != 1 {
		t.Fatalf("model scored %d windows, want 1", model.calls)
	}
}

type failingModel struct{}

func (failingModel) Infer(window, state []float32) (float32, []float32, error) {
	return 0, nil, errors.New("model exploded")
}

func TestModelErrorSurfaced(t *testing.T) {
	s := New(testConfig(), failingModel{}, func(Segment) {})
	if err := s.ProcessFrame(windowFrame()); err == nil {
		t.Fatal("expected model error")
	}
}
