package translate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/echosub/echosub/internal/logging"
)

var log = logging.L("translate")

// cacheLimit bounds the in-memory result cache. Subtitle lines repeat often
// (UI chrome, song refrains), so even a small cache earns its keep.
const cacheLimit = 512

// OpenAI translates via an OpenAI-compatible chat-completions endpoint.
type OpenAI struct {
	client *openai.Client
	model  string

	mu    sync.Mutex
	cache map[string]string
	order []string // insertion order for eviction
}

// Config for the OpenAI translator. BaseURL may point at any compatible
// endpoint (local llama.cpp server, vLLM, the real API).
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAI builds the translator. The client is lazy; readiness only checks
// that credentials and a model are configured.
func NewOpenAI(cfg Config) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		cache:  make(map[string]string),
	}
}

func (o *OpenAI) IsReady() bool {
	return o.model != ""
}

func (o *OpenAI) Translate(ctx context.Context, text, sourceLang, targetLang string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, nil
	}

	key := cacheKey(text, sourceLang, targetLang)
	if cached, ok := o.cacheGet(key); ok {
		return Result{TranslatedText: cached, FromCache: true}, nil
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt(sourceLang, targetLang),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return Result{}, fmt.Errorf("translate: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("translate: empty response for %q", text)
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	o.cachePut(key, out)
	log.Debug("translated line", "sourceLang", sourceLang, "targetLang", targetLang, "chars", len(text))
	return Result{TranslatedText: out}, nil
}

func systemPrompt(sourceLang, targetLang string) string {
	src := "the source language"
	if sourceLang != "" && sourceLang != "auto" {
		src = sourceLang
	}
	return fmt.Sprintf(
		"You are a subtitle translator. Translate the user's line from %s to %s. "+
			"Reply with the translation only: no quotes, no notes, keep it as short as natural speech.",
		src, targetLang)
}

func cacheKey(text, sourceLang, targetLang string) string {
	return sourceLang + "\x00" + targetLang + "\x00" + text
}

func (o *OpenAI) cacheGet(key string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.cache[key]
	return v, ok
}

func (o *OpenAI) cachePut(key, value string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.cache[key]; exists {
		o.cache[key] = value
		return
	}
	if len(o.order) >= cacheLimit {
		oldest := o.order[0]
		o.order = o.order[1:]
		delete(o.cache, oldest)
	}
	o.cache[key] = value
	o.order = append(o.order, key)
}
