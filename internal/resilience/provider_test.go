package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/inferbridge/pkg/provider/llm"
	"github.com/MrWong99/inferbridge/pkg/provider/llm/mock"
)

func TestGuardedProvider_PassesThrough(t *testing.T) {
	inner := &mock.Provider{
		ProviderName:     "watsonx.ai",
		DetailsResponse:  &llm.ModelDetails{ModelID: "m"},
		GenerateResponse: &llm.GenerateResponse{Results: []llm.Result{{GeneratedText: "Rome"}}},
	}
	g := NewGuardedProvider(inner, CircuitBreakerConfig{})

	if g.Name() != "watsonx.ai" {
		t.Errorf("Name() = %q", g.Name())
	}
	if d, err := g.Details(context.Background()); err != nil || d.ModelID != "m" {
		t.Errorf("Details = %+v, %v", d, err)
	}
	resp, err := g.Generate(context.Background(), "capital?", llm.GenerateParams{MaxNewTokens: 7})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Results[0].GeneratedText != "Rome" {
		t.Errorf("text = %q", resp.Results[0].GeneratedText)
	}
	calls := inner.Calls()
	if len(calls) != 1 || calls[0].Prompt != "capital?" || calls[0].Params.MaxNewTokens != 7 {
		t.Errorf("calls = %+v", calls)
	}
}

func TestGuardedProvider_OpensAndShortCircuits(t *testing.T) {
	inner := &mock.Provider{GenerateErr: errRemote}
	clk := &fakeClock{t: time.Now()}
	g := NewGuardedProvider(inner, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, now: clk.Now})
	ctx := context.Background()

	for range 2 {
		if _, err := g.Generate(ctx, "q", llm.GenerateParams{}); !errors.Is(err, errRemote) {
			t.Fatalf("err = %v, want errRemote", err)
		}
	}
	if g.State() != StateOpen {
		t.Fatalf("state = %v, want open", g.State())
	}

	_, err := g.Generate(ctx, "q", llm.GenerateParams{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := len(inner.Calls()); n != 2 {
		t.Errorf("backend calls = %d, want 2", n)
	}
}

func TestGuardedProvider_KeepsAuthenticationClassification(t *testing.T) {
	inner := &mock.Provider{GenerateErr: llm.ErrAuthentication}
	g := NewGuardedProvider(inner, CircuitBreakerConfig{})

	_, err := g.Generate(context.Background(), "q", llm.GenerateParams{})
	if !errors.Is(err, llm.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
}
