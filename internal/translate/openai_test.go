package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// fakeCompletionServer answers every chat completion with a fixed string and
// counts requests, so cache hits are observable.
func fakeCompletionServer(t *testing.T, reply string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		resp := map[string]any{
			"id":      "test",
			"object":  "chat.completion",
			"choices": []map[string]any{{
				"index":   0,
				"message": map[string]any{"role": "assistant", "content": reply},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestTranslateAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := fakeCompletionServer(t, "Hallo Welt", &hits)
	defer srv.Close()

	tr := NewOpenAI(Config{APIKey: "test", BaseURL: srv.URL, Model: "test-model"})

	res, err := tr.Translate(context.Background(), "hello world", "en", "de")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.TranslatedText != "Hallo Welt" || res.FromCache {
		t.Fatalf("first call = %+v, want fresh translation", res)
	}

	res, err = tr.Translate(context.Background(), "hello world", "en", "de")
	if err != nil {
		t.Fatalf("Translate (cached): %v", err)
	}
	if !res.FromCache || res.TranslatedText != "Hallo Welt" {
		t.Fatalf("second call = %+v, want cache hit", res)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hit %d times, want 1", hits.Load())
	}

	// Different target language misses the cache.
	if _, err := tr.Translate(context.Background(), "hello world", "en", "fr"); err != nil {
		t.Fatalf("Translate (fr): %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("server hit %d times, want 2", hits.Load())
	}
}

func TestTranslateEmptyTextShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := fakeCompletionServer(t, "x", &hits)
	defer srv.Close()

	tr := NewOpenAI(Config{APIKey: "test", BaseURL: srv.URL, Model: "test-model"})
	res, err := tr.Translate(context.Background(), "   ", "en", "de")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.TranslatedText != "" || hits.Load() != 0 {
		t.Fatalf("blank input should not reach the endpoint (res=%+v hits=%d)", res, hits.Load())
	}
}

func TestIsReady(t *testing.T) {
	if NewOpenAI(Config{Model: ""}).IsReady() {
		t.Error("translator without a model should not be ready")
	}
	if !NewOpenAI(Config{Model: "m"}).IsReady() {
		t.Error("translator with a model should be ready")
	}
}

func TestCacheEviction(t *testing.T) {
	tr := NewOpenAI(Config{Model: "m"})
	for i := 0; i < cacheLimit+10; i++ {
		tr.cachePut(string(rune('a'+i%26))+string(rune(i)), "v")
	}
	if len(tr.cache) > cacheLimit {
		t.Fatalf("cache grew to %d entries, cap is %d", len(tr.cache), cacheLimit)
	}
}
