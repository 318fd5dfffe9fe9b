package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/inferbridge/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*GuardedProvider)(nil)

// GuardedProvider wraps an [llm.Provider] so that Generate calls pass through
// a [CircuitBreaker]. While the breaker is open, Generate fails immediately
// with an error wrapping [ErrCircuitOpen] and the backend is not contacted.
//
// Details is forwarded unguarded; it runs once at startup and its outcome is
// already reflected by the readiness tracker.
type GuardedProvider struct {
	inner   llm.Provider
	breaker *CircuitBreaker
}

// NewGuardedProvider wraps p. cfg.Name defaults to p.Name().
func NewGuardedProvider(p llm.Provider, cfg CircuitBreakerConfig) *GuardedProvider {
	if cfg.Name == "" {
		cfg.Name = p.Name()
	}
	return &GuardedProvider{inner: p, breaker: NewCircuitBreaker(cfg)}
}

// Name implements llm.Provider and returns the wrapped provider's name.
func (g *GuardedProvider) Name() string { return g.inner.Name() }

// Details implements llm.Provider.
func (g *GuardedProvider) Details(ctx context.Context) (*llm.ModelDetails, error) {
	return g.inner.Details(ctx)
}

// Generate implements llm.Provider.
func (g *GuardedProvider) Generate(ctx context.Context, prompt string, params llm.GenerateParams) (*llm.GenerateResponse, error) {
	var resp *llm.GenerateResponse
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.inner.Generate(ctx, prompt, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resilience: %s: %w", g.inner.Name(), err)
	}
	return resp, nil
}

// State reports the breaker state.
func (g *GuardedProvider) State() State { return g.breaker.State() }
