// Package stt is the recognition collaborator boundary: it turns finalized
// speech segments into text.
package stt

import (
	"context"
	"strings"
	"time"
)

// Result is one transcription outcome.
type Result struct {
	Text           string
	IsFinal        bool
	ProcessingTime time.Duration
}

// Transcriber converts mono float32 audio to text. Implementations must be
// safe for concurrent Transcribe calls; the dispatch pipeline bounds how many
// run at once but does not serialize them.
type Transcriber interface {
	// Transcribe recognizes speech in samples at sampleRate Hz.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error)
	// IsModelLoaded reports readiness; dispatch skips work until it is true.
	IsModelLoaded() bool
}

// blank-audio sentinels whisper emits for non-speech input.
var blankSentinels = []string{"[blank_audio]", "(blank)", "[silence]", "[inaudible]"}

// IsBlank reports whether text is empty or one of the known non-speech
// sentinel tokens, in which case translation and display are skipped.
func IsBlank(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return true
	}
	for _, s := range blankSentinels {
		if t == s {
			return true
		}
	}
	return false
}
