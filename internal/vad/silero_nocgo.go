//go:build !cgo

package vad

import "errors"

// Silero is unavailable without cgo (the ONNX runtime binding requires it).
type Silero struct{}

func NewSilero(modelPath string) (*Silero, error) {
	return nil, errors.New("vad: silero model requires a cgo-enabled build")
}

func (s *Silero) Infer(window []float32, state []float32) (float32, []float32, error) {
	return 0, nil, errors.New("vad: silero model unavailable")
}

func (s *Silero) Close() {}
