// Package translate is the translation collaborator boundary.
package translate

import "context"

// Result is one translation outcome. FromCache is true when the text was
// served from the local result cache rather than the model.
type Result struct {
	TranslatedText string
	FromCache      bool
}

// Translator converts recognized text between languages. Implementations
// must be safe for concurrent use.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (Result, error)
	// IsReady reports whether the backing model/endpoint is usable.
	IsReady() bool
}
