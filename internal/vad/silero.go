//go:build cgo

package vad

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"
)

// Silero wraps the Silero ONNX voice-activity detector. The detector keeps
// its recurrent state internally; the interface's state vector is carried
// through untouched so callers stay model-agnostic.
type Silero struct {
	detector *speech.Detector
	inSpeech bool
}

// Probabilities reported around the detector's own threshold decisions. The
// streaming API surfaces start/end events rather than raw scores, so the
// adapter maps the current region to a firm probability on either side of
// any sensible entry threshold.
const (
	sileroSpeechProb  = 0.95
	sileroSilenceProb = 0.05
)

// NewSilero loads the ONNX model at modelPath.
func NewSilero(modelPath string) (*Silero, error) {
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  modelPath,
		SampleRate: SampleRate,
		Threshold:  0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("vad: load silero model: %w", err)
	}
	return &Silero{detector: detector}, nil
}

func (s *Silero) Infer(window []float32, state []float32) (float32, []float32, error) {
	if len(window) != WindowSize {
		return 0, nil, fmt.Errorf("vad: window must be %d samples, got %d", WindowSize, len(window))
	}

	event, err := s.detector.DetectStreamFrame(window)
	if err != nil {
		// The detector's recurrent state can wedge on malformed input; reset
		// and report silence for this window rather than failing the stream.
		s.detector.Reset()
		s.inSpeech = false
		return sileroSilenceProb, state, nil
	}
	if event != nil {
		if event.IsStart {
			s.inSpeech = true
		}
		if event.IsEnd {
			s.inSpeech = false
		}
	}

	if s.inSpeech {
		return sileroSpeechProb, state, nil
	}
	return sileroSilenceProb, state, nil
}

// Close releases the ONNX session.
func (s *Silero) Close() {
	s.detector.Destroy()
}
