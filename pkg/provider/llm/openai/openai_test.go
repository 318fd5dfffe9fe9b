package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/inferbridge/pkg/provider/llm"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New("sk-test", "gpt-4o", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

// TestBuildParams_Greedy checks that greedy decoding maps to temperature 0
// and that the token cap is forwarded.
func TestBuildParams_Greedy(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "gpt-4o")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := p.buildParams("hello", llm.GenerateParams{DecodingMethod: llm.DecodingGreedy, MaxNewTokens: 512})

	if !params.Temperature.Valid() || params.Temperature.Value != 0 {
		t.Errorf("temperature = %+v, want 0", params.Temperature)
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 512 {
		t.Errorf("max completion tokens = %+v, want 512", params.MaxCompletionTokens)
	}
	if len(params.Messages) != 1 || params.Messages[0].OfUser == nil {
		t.Fatalf("expected a single user message, got %+v", params.Messages)
	}
}

func TestBuildParams_SampleLeavesTemperatureUnset(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "gpt-4o")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := p.buildParams("hello", llm.GenerateParams{DecodingMethod: llm.DecodingSample})
	if params.Temperature.Valid() {
		t.Errorf("temperature should be unset for sampling, got %v", params.Temperature.Value)
	}
	if params.MaxCompletionTokens.Valid() {
		t.Error("max completion tokens should be unset when MaxNewTokens is 0")
	}
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()
	var gotBody map[string]any
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "  Rome.  "}}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 2, "total_tokens": 9}
		}`))
	})

	resp, err := p.Generate(context.Background(), "capital of Italy?", llm.GenerateParams{MaxNewTokens: 512})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(resp.Results))
	}
	r := resp.Results[0]
	if r.GeneratedText != "  Rome.  " {
		t.Errorf("text = %q, want untrimmed model output", r.GeneratedText)
	}
	if r.StopReason != "stop" || r.GeneratedTokenCount != 2 || r.InputTokenCount != 7 {
		t.Errorf("unexpected result metadata: %+v", r)
	}
	if gotBody["temperature"] != float64(0) {
		t.Errorf("request temperature = %v, want 0", gotBody["temperature"])
	}
	if gotBody["max_completion_tokens"] != float64(512) {
		t.Errorf("request max_completion_tokens = %v, want 512", gotBody["max_completion_tokens"])
	}
}

func TestGenerate_EmptyChoices(t *testing.T) {
	t.Parallel()
	p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"gpt-4o","choices":[]}`))
	})

	resp, err := p.Generate(context.Background(), "hi", llm.GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("results = %d, want 0", len(resp.Results))
	}
}

func TestDetails_Unauthorized(t *testing.T) {
	t.Parallel()
	p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	})

	_, err := p.Details(context.Background())
	if !errors.Is(err, llm.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
}

func TestDetails_ServerErrorIsNotAuth(t *testing.T) {
	t.Parallel()
	p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})

	_, err := p.Details(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, llm.ErrAuthentication) {
		t.Errorf("500 must not be classified as authentication failure: %v", err)
	}
}

func TestDetails_Success(t *testing.T) {
	t.Parallel()
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gpt-4o") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"gpt-4o","object":"model","created":1,"owned_by":"openai"}`))
	})

	d, err := p.Details(context.Background())
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if d.ModelID != "gpt-4o" || d.Provider != "openai" {
		t.Errorf("details = %+v", d)
	}
}
