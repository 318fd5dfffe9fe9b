// Package anyllm provides a multi-vendor LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified interface over OpenAI,
// Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and local llama.cpp
// servers.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
//	resp, err := p.Generate(ctx, "What is the capital of Italy?", llm.GenerateParams{MaxNewTokens: 512})
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/inferbridge/pkg/provider/llm"
)

// SupportedProviders lists the backend names accepted by [New].
var SupportedProviders = []string{"anthropic", "deepseek", "gemini", "groq", "llamacpp", "mistral", "ollama", "openai"}

// probePrompt is the prompt sent by Details. any-llm-go has no portable
// model-metadata call, so the probe is a one-token completion.
const probePrompt = "ping"

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New creates a new Provider backed by the named vendor.
//
// providerName is one of [SupportedProviders]. opts are any-llm-go options
// (e.g. anyllmlib.WithAPIKey, anyllmlib.WithBaseURL). Without an API key
// option the vendor's usual environment variable is consulted.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, name: strings.ToLower(providerName), model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(SupportedProviders, ", "))
	}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.name }

// Details implements llm.Provider with a one-token completion, which is the
// cheapest call every vendor authenticates.
func (p *Provider) Details(ctx context.Context) (*llm.ModelDetails, error) {
	params := p.buildParams(probePrompt, llm.GenerateParams{MaxNewTokens: 1})
	if _, err := p.backend.Completion(ctx, params); err != nil {
		return nil, classify("probe", err)
	}
	return &llm.ModelDetails{ModelID: p.model, Label: p.model, Provider: p.name}, nil
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string, params llm.GenerateParams) (*llm.GenerateResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(prompt, params))
	if err != nil {
		return nil, classify("completion", err)
	}

	out := &llm.GenerateResponse{ModelID: p.model}
	for i, choice := range resp.Choices {
		r := llm.Result{
			GeneratedText: choice.Message.ContentString(),
			StopReason:    string(choice.FinishReason),
		}
		if i == 0 && resp.Usage != nil {
			r.GeneratedTokenCount = resp.Usage.CompletionTokens
			r.InputTokenCount = resp.Usage.PromptTokens
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}

// buildParams converts a prompt into anyllm CompletionParams. Greedy decoding
// maps to temperature 0.
func (p *Provider) buildParams(prompt string, gp llm.GenerateParams) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleUser, Content: prompt},
		},
	}
	if gp.DecodingMethod == "" || gp.DecodingMethod == llm.DecodingGreedy {
		t := 0.0
		params.Temperature = &t
	}
	if gp.MaxNewTokens > 0 {
		mt := gp.MaxNewTokens
		params.MaxTokens = &mt
	}
	return params
}

// authMarkers are lower-cased fragments that vendors put in credential
// rejection messages.
var authMarkers = []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "invalid_api_key", "authentication", "api key"}

// classify wraps err, marking credential rejections as authentication
// failures. any-llm-go normalises vendor errors into messages rather than a
// shared status type, so the match is textual.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	for _, m := range authMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("anyllm: %s: %w: %w", op, llm.ErrAuthentication, err)
		}
	}
	return fmt.Errorf("anyllm: %s: %w", op, err)
}
