package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/echosub/echosub/internal/audio"
	"github.com/echosub/echosub/internal/logging"
)

var log = logging.L("stt")

// whisperRate is the sample rate whisper.cpp expects.
const whisperRate = 16000

// Whisper is a Transcriber backed by the whisper.cpp CGO bindings. The model
// is loaded once and shared; each Transcribe call creates its own context,
// so calls may run concurrently.
type Whisper struct {
	model    whisperlib.Model
	language string
	loaded   atomic.Bool
}

// NewWhisper loads the ggml model at modelPath. language is a BCP-47 code or
// "auto".
func NewWhisper(modelPath, language string) (*Whisper, error) {
	if modelPath == "" {
		return nil, errors.New("stt: whisper model path not configured")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("stt: load whisper model %q: %w", modelPath, err)
	}
	w := &Whisper{model: model, language: language}
	w.loaded.Store(true)
	log.Info("whisper model loaded", "path", modelPath, "language", language)
	return w, nil
}

func (w *Whisper) IsModelLoaded() bool {
	return w.loaded.Load()
}

func (w *Whisper) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	if !w.loaded.Load() {
		return Result{}, errors.New("stt: model not loaded")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if sampleRate != whisperRate {
		samples = audio.Resample(samples, sampleRate, whisperRate)
	}

	start := time.Now()

	// Contexts are not thread-safe; the shared model is.
	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("stt: create whisper context: %w", err)
	}
	if w.language != "" {
		if err := wctx.SetLanguage(w.language); err != nil {
			log.Warn("failed to set language, using model default", "language", w.language, logging.KeyError, err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("stt: whisper process: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("stt: read whisper segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return Result{
		Text:           strings.Join(parts, " "),
		IsFinal:        true,
		ProcessingTime: time.Since(start),
	}, nil
}

// Close releases the model.
func (w *Whisper) Close() error {
	w.loaded.Store(false)
	if w.model != nil {
		return w.model.Close()
	}
	return nil
}
