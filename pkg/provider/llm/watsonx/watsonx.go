// Package watsonx provides an LLM provider backed by the IBM watsonx.ai REST
// API.
//
// Authentication uses an IBM Cloud API key, exchanged for a short-lived IAM
// bearer token (a golang.org/x/oauth2 Token) that is cached until it expires.
// Text generation goes through POST /ml/v1/text/generation; model metadata
// comes from GET /ml/v1/foundation_model_specs.
//
// Typical usage:
//
//	p, err := watsonx.New(apiKey, "https://us-south.ml.cloud.ibm.com", projectID,
//	    watsonx.WithModel("ibm/granite-3-3-8b-instruct"),
//	)
//	if _, err := p.Details(ctx); errors.Is(err, llm.ErrAuthentication) { ... }
package watsonx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/inferbridge/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "ibm/granite-3-3-8b-instruct"

	// DefaultIAMURL is the IBM Cloud IAM endpoint.
	DefaultIAMURL = "https://iam.cloud.ibm.com"

	// APIVersion is the watsonx.ai API version date sent with every request.
	APIVersion = "2023-05-29"

	generationPath = "/ml/v1/text/generation"
	modelSpecsPath = "/ml/v1/foundation_model_specs"
	iamTokenPath   = "/identity/token"

	defaultTimeout = 60 * time.Second
)

// Provider implements llm.Provider against watsonx.ai.
type Provider struct {
	baseURL    string
	projectID  string
	model      string
	httpClient *http.Client
	iam        *iamTokenSource
}

// config holds optional configuration for the provider.
type config struct {
	model      string
	iamURL     string
	timeout    time.Duration
	baseClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel selects the foundation model. Defaults to [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithIAMURL overrides the IAM endpoint (scheme and host, without the
// /identity/token path). Defaults to [DefaultIAMURL].
func WithIAMURL(u string) Option {
	return func(c *config) {
		if u != "" {
			c.iamURL = u
		}
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient sets the HTTP client used for both IAM and watsonx.ai calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.baseClient = hc
	}
}

// New constructs a watsonx.ai Provider. apiKey, serviceURL and projectID are
// required. No network call is made; use [Provider.Details] to verify the
// credentials.
func New(apiKey, serviceURL, projectID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("watsonx: apiKey must not be empty")
	}
	if serviceURL == "" {
		return nil, fmt.Errorf("watsonx: serviceURL must not be empty")
	}
	if projectID == "" {
		return nil, fmt.Errorf("watsonx: projectID must not be empty")
	}
	if _, err := url.ParseRequestURI(serviceURL); err != nil {
		return nil, fmt.Errorf("watsonx: invalid serviceURL %q: %w", serviceURL, err)
	}

	cfg := &config{
		model:   DefaultModel,
		iamURL:  DefaultIAMURL,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}

	base := cfg.baseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.timeout}
	}

	return &Provider{
		baseURL:    strings.TrimRight(serviceURL, "/"),
		projectID:  projectID,
		model:      cfg.model,
		httpClient: base,
		iam: &iamTokenSource{
			client:   base,
			tokenURL: strings.TrimRight(cfg.iamURL, "/") + iamTokenPath,
			apiKey:   apiKey,
		},
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "watsonx.ai" }

// Model returns the configured model ID.
func (p *Provider) Model() string { return p.model }

// ── Wire types ───────────────────────────────────────────────────────────────

type generationParameters struct {
	DecodingMethod string `json:"decoding_method,omitempty"`
	MaxNewTokens   int    `json:"max_new_tokens,omitempty"`
}

type generationRequest struct {
	Input      string               `json:"input"`
	ModelID    string               `json:"model_id"`
	ProjectID  string               `json:"project_id"`
	Parameters generationParameters `json:"parameters"`
}

type generationResult struct {
	GeneratedText       string `json:"generated_text"`
	GeneratedTokenCount int    `json:"generated_token_count"`
	InputTokenCount     int    `json:"input_token_count"`
	StopReason          string `json:"stop_reason"`
}

type generationResponse struct {
	ModelID string             `json:"model_id"`
	Results []generationResult `json:"results"`
}

type modelSpec struct {
	ModelID          string `json:"model_id"`
	Label            string `json:"label"`
	Provider         string `json:"provider"`
	ShortDescription string `json:"short_description"`
}

type modelSpecsResponse struct {
	TotalCount int         `json:"total_count"`
	Resources  []modelSpec `json:"resources"`
}

// apiError is the watsonx.ai error envelope.
type apiError struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	StatusCode int `json:"status_code"`
}

// ── Operations ───────────────────────────────────────────────────────────────

// Details implements llm.Provider. The request needs an IAM token, so an
// invalid API key fails here with
// [llm.ErrAuthentication]. A model unknown to the service is an error too.
func (p *Provider) Details(ctx context.Context) (*llm.ModelDetails, error) {
	q := url.Values{
		"version": {APIVersion},
		"filters": {"modelid_" + p.model},
	}
	var specs modelSpecsResponse
	if err := p.do(ctx, http.MethodGet, modelSpecsPath+"?"+q.Encode(), nil, &specs); err != nil {
		return nil, fmt.Errorf("watsonx: get model details: %w", err)
	}
	for _, s := range specs.Resources {
		if s.ModelID == p.model {
			return &llm.ModelDetails{
				ModelID:     s.ModelID,
				Label:       s.Label,
				Provider:    s.Provider,
				Description: s.ShortDescription,
			}, nil
		}
	}
	return nil, fmt.Errorf("watsonx: model %q is not supported by %s", p.model, p.baseURL)
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string, params llm.GenerateParams) (*llm.GenerateResponse, error) {
	method := params.DecodingMethod
	if method == "" {
		method = llm.DecodingGreedy
	}
	body := generationRequest{
		Input:     prompt,
		ModelID:   p.model,
		ProjectID: p.projectID,
		Parameters: generationParameters{
			DecodingMethod: string(method),
			MaxNewTokens:   params.MaxNewTokens,
		},
	}

	var gr generationResponse
	path := generationPath + "?" + url.Values{"version": {APIVersion}}.Encode()
	if err := p.do(ctx, http.MethodPost, path, body, &gr); err != nil {
		return nil, fmt.Errorf("watsonx: generate text: %w", err)
	}

	out := &llm.GenerateResponse{ModelID: gr.ModelID}
	for _, r := range gr.Results {
		out.Results = append(out.Results, llm.Result{
			GeneratedText:       r.GeneratedText,
			GeneratedTokenCount: r.GeneratedTokenCount,
			InputTokenCount:     r.InputTokenCount,
			StopReason:          r.StopReason,
		})
	}
	return out, nil
}

// do performs an authenticated JSON request and decodes the response into
// out. Non-2xx responses become errors; 401 and 403 wrap
// [llm.ErrAuthentication].
func (p *Provider) do(ctx context.Context, method, path string, in, out any) error {
	tok, err := p.iam.Token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tok.SetAuthHeader(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, errorMessage(raw))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w", llm.ErrAuthentication, err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the first message from a watsonx.ai error body,
// falling back to the trimmed raw body.
func errorMessage(raw []byte) string {
	var ae apiError
	if err := json.Unmarshal(raw, &ae); err == nil && len(ae.Errors) > 0 {
		return ae.Errors[0].Code + ": " + ae.Errors[0].Message
	}
	return strings.TrimSpace(string(raw))
}
