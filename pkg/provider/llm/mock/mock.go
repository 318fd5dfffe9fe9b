// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the chat tool and the startup
// sequence send the expected requests and to feed controlled responses
// without a live backend. All fields are safe to set before calling any
// method; mutating them during a concurrent call is the caller's
// responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    GenerateResponse: &llm.GenerateResponse{
//	        Results: []llm.Result{{GeneratedText: " Rome. "}},
//	    },
//	}
//	resp, err := p.Generate(ctx, "capital of Italy?", llm.GenerateParams{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/inferbridge/pkg/provider/llm"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Prompt is the prompt passed to Generate.
	Prompt string
	// Params is the parameter set passed to Generate.
	Params llm.GenerateParams
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ProviderName is returned by Name. Defaults to "mock" when empty.
	ProviderName string

	// DetailsResponse is returned by Details. May be nil (returns nil, nil).
	DetailsResponse *llm.ModelDetails

	// DetailsErr, if non-nil, is returned as the error from Details.
	DetailsErr error

	// GenerateResponse is returned by Generate. May be nil (returns nil, nil).
	GenerateResponse *llm.GenerateResponse

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// --- Call records (read after test) ---

	// DetailsCallCount is the number of times Details was called.
	DetailsCallCount int

	// GenerateCalls records every invocation of Generate in order.
	GenerateCalls []GenerateCall
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Details records the call and returns DetailsResponse, DetailsErr.
func (p *Provider) Details(_ context.Context) (*llm.ModelDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DetailsCallCount++
	return p.DetailsResponse, p.DetailsErr
}

// Generate records the call and returns GenerateResponse, GenerateErr.
func (p *Provider) Generate(ctx context.Context, prompt string, params llm.GenerateParams) (*llm.GenerateResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Prompt: prompt, Params: params})
	return p.GenerateResponse, p.GenerateErr
}

// Calls returns a copy of the recorded Generate calls. Thread-safe.
func (p *Provider) Calls() []GenerateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]GenerateCall, len(p.GenerateCalls))
	copy(out, p.GenerateCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DetailsCallCount = 0
	p.GenerateCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
