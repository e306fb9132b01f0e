package vad

import (
	"fmt"
	"math"
)

// Energy model defaults, tuned for 16 kHz desktop audio.
const (
	energyInitialFloor = 0.004
	energyMinFloor     = 0.0005
	energySpeechRatio  = 4.0   // speech level relative to noise floor
	energyMinSpeech    = 0.012 // absolute minimum level considered speech
	energyFloorDecay   = 0.05  // how fast the floor tracks quieter audio
	energyFloorRise    = 0.002 // how slowly it follows louder audio
)

// Energy is a pure-Go voice-activity model based on RMS level with an
// adaptive noise floor. state[0] carries the floor estimate between windows.
// It needs no model file and serves as the default when no ONNX model is
// configured.
type Energy struct{}

// NewEnergy returns the built-in energy model.
func NewEnergy() *Energy { return &Energy{} }

func (e *Energy) Infer(window []float32, state []float32) (float32, []float32, error) {
	if len(window) != WindowSize {
		return 0, nil, fmt.Errorf("vad: window must be %d samples, got %d", WindowSize, len(window))
	}
	if len(state) != StateSize {
		return 0, nil, fmt.Errorf("vad: state must be %d floats, got %d", StateSize, len(state))
	}

	level := rms(window)

	floor := float64(state[0])
	if floor <= 0 {
		floor = energyInitialFloor
	}

	// Probability ramps linearly from the noise floor up to the speech level.
	speech := floor * energySpeechRatio
	if speech < energyMinSpeech {
		speech = energyMinSpeech
	}
	var prob float64
	if level > floor {
		prob = (level - floor) / (speech - floor)
		if prob > 1 {
			prob = 1
		}
	}

	// Track the floor: quickly toward quieter audio, slowly toward louder,
	// so sustained speech does not inflate it.
	if level < floor {
		floor += (level - floor) * energyFloorDecay
	} else {
		floor += (level - floor) * energyFloorRise
	}
	if floor < energyMinFloor {
		floor = energyMinFloor
	}

	next := make([]float32, StateSize)
	copy(next, state)
	next[0] = float32(floor)
	return float32(prob), next, nil
}

func rms(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
