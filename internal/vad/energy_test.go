package vad

import (
	"math"
	"testing"
)

func inferAll(t *testing.T, m Model, windows [][]float32) []float32 {
	t.Helper()
	state := NewState()
	probs := make([]float32, 0, len(windows))
	for i, w := range windows {
		p, next, err := m.Infer(w, state)
		if err != nil {
			t.Fatalf("Infer window %d: %v", i, err)
		}
		state = next
		probs = append(probs, p)
	}
	return probs
}

func sineWindow(amplitude float64) []float32 {
	w := make([]float32, WindowSize)
	for i := range w {
		w[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(SampleRate)))
	}
	return w
}

func TestEnergySilenceScoresLow(t *testing.T) {
	windows := make([][]float32, 20)
	for i := range windows {
		windows[i] = make([]float32, WindowSize)
	}
	for i, p := range inferAll(t, NewEnergy(), windows) {
		if p > 0.1 {
			t.Fatalf("window %d: silence scored %f", i, p)
		}
	}
}

func TestEnergySpeechLevelScoresHigh(t *testing.T) {
	windows := make([][]float32, 10)
	for i := range windows {
		windows[i] = sineWindow(0.3)
	}
	probs := inferAll(t, NewEnergy(), windows)
	if probs[0] < 0.9 {
		t.Fatalf("loud audio scored %f, want >= 0.9", probs[0])
	}
}

func TestEnergyStateNotMutated(t *testing.T) {
	state := NewState()
	state[0] = 0.01
	before := state[0]

	if _, _, err := NewEnergy().Infer(sineWindow(0.2), state); err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if state[0] != before {
		t.Fatal("Infer mutated the caller's state vector")
	}
}

func TestEnergyRejectsBadShapes(t *testing.T) {
	m := NewEnergy()
	if _, _, err := m.Infer(make([]float32, 100), NewState()); err == nil {
		t.Error("expected error for short window")
	}
	if _, _, err := m.Infer(make([]float32, WindowSize), make([]float32, 3)); err == nil {
		t.Error("expected error for short state")
	}
}

func TestEnergyFloorAdapts(t *testing.T) {
	// After sustained quiet hiss, the floor should settle near the hiss level
	// so it no longer registers as speech.
	m := NewEnergy()
	state := NewState()
	hiss := sineWindow(0.002)

	var last float32
	for i := 0; i < 200; i++ {
		p, next, err := m.Infer(hiss, state)
		if err != nil {
			t.Fatalf("Infer: %v", err)
		}
		state = next
		last = p
	}
	if last > 0.3 {
		t.Fatalf("steady hiss still scores %f after adaptation", last)
	}
}
