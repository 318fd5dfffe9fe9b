// Package openai provides an LLM provider backed by the OpenAI API or any
// OpenAI-compatible inference endpoint (vLLM, LiteLLM, watsonx.ai gateways).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/inferbridge/pkg/provider/llm"
)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	project      string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithProject sets the OpenAI project ID on all requests.
func WithProject(project string) Option {
	return func(c *config) {
		c.project = project
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI LLM Provider. The SDK's built-in retries are
// disabled; every call is attempted exactly once.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.project != "" {
		reqOpts = append(reqOpts, option.WithProject(cfg.project))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "OpenAI" }

// Details implements llm.Provider by retrieving the model object.
func (p *Provider) Details(ctx context.Context) (*llm.ModelDetails, error) {
	m, err := p.client.Models.Get(ctx, p.model)
	if err != nil {
		return nil, classify("get model", err)
	}
	return &llm.ModelDetails{
		ModelID:  m.ID,
		Label:    m.ID,
		Provider: m.OwnedBy,
	}, nil
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string, params llm.GenerateParams) (*llm.GenerateResponse, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(prompt, params))
	if err != nil {
		return nil, classify("chat completion", err)
	}

	out := &llm.GenerateResponse{ModelID: resp.Model}
	for i, choice := range resp.Choices {
		r := llm.Result{
			GeneratedText: choice.Message.Content,
			StopReason:    choice.FinishReason,
		}
		if i == 0 {
			r.GeneratedTokenCount = int(resp.Usage.CompletionTokens)
			r.InputTokenCount = int(resp.Usage.PromptTokens)
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}

// buildParams converts a prompt and GenerateParams into OpenAI SDK params.
// Greedy decoding maps to temperature 0.
func (p *Provider) buildParams(prompt string, gp llm.GenerateParams) oai.ChatCompletionNewParams {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(prompt),
		},
	}
	if gp.DecodingMethod == "" || gp.DecodingMethod == llm.DecodingGreedy {
		params.Temperature = param.NewOpt(0.0)
	}
	if gp.MaxNewTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(gp.MaxNewTokens))
	}
	return params
}

// classify wraps err, marking 401 and 403 responses as authentication
// failures.
func classify(op string, err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return fmt.Errorf("openai: %s: %w: %w", op, llm.ErrAuthentication, err)
		}
	}
	return fmt.Errorf("openai: %s: %w", op, err)
}
