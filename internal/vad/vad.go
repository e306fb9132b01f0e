// Package vad defines the voice-activity model boundary. Models score fixed
// 512-sample windows at 16 kHz with a speech-presence probability, threading
// an opaque state vector from one inference to the next.
package vad

// Model geometry. Matches the Silero v4 ONNX interface; the built-in energy
// model uses only a fraction of the state vector but keeps the same shape.
const (
	WindowSize = 512
	SampleRate = 16000
	StateSize  = 256
)

// Model scores one window. Implementations must treat window and state as
// read-only and return a fresh state vector; the caller serializes access,
// so implementations need no internal locking.
type Model interface {
	Infer(window []float32, state []float32) (prob float32, newState []float32, err error)
}

// NewState returns a zeroed model state vector.
func NewState() []float32 {
	return make([]float32, StateSize)
}
