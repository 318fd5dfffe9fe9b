// Package llm defines the Provider interface for hosted text-generation
// backends.
//
// A provider wraps a remote model-inference API (IBM watsonx.ai, an
// OpenAI-compatible endpoint, or any vendor reachable through any-llm-go) and
// exposes the two operations inferbridge needs: a metadata probe used during
// startup to force authentication, and a single-shot text generation call
// used by the chat tool.
//
// Implementors must be safe for concurrent use. Neither method retries; a
// failed call is reported to the caller as-is.
package llm

import (
	"context"
	"errors"
)

// ErrAuthentication is wrapped by provider errors caused by rejected or
// missing credentials. Callers distinguish it from other failures with
// [errors.Is].
var ErrAuthentication = errors.New("llm: authentication failed")

// Provider is the abstraction over any hosted inference backend.
//
// Each method should propagate context cancellation promptly: when ctx is
// cancelled the method must return as quickly as possible.
type Provider interface {
	// Name returns a short human-readable backend label (e.g. "watsonx.ai")
	// used in user-facing diagnostics and metric attributes.
	Name() string

	// Details requests metadata for the configured model. Calling it forces
	// the provider to authenticate, so it doubles as the startup probe.
	// Credential failures wrap [ErrAuthentication].
	Details(ctx context.Context) (*ModelDetails, error)

	// Generate sends prompt to the model and waits for the complete response.
	// A well-formed response with zero results is not an error; callers decide
	// how to surface it.
	Generate(ctx context.Context, prompt string, params GenerateParams) (*GenerateResponse, error)
}
