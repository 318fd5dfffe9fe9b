package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/inferbridge/internal/config"
	"github.com/MrWong99/inferbridge/internal/readiness"
	"github.com/MrWong99/inferbridge/pkg/provider/llm"
)

// Startup failures returned under the fail-fast policy. Under fail-soft the
// same conditions are recorded in the tracker and Startup returns nil.
var (
	ErrConfigurationMissing = errors.New("app: required configuration missing")
	ErrRemoteAuthentication = errors.New("app: remote authentication failed")
	ErrRemoteUnexpected     = errors.New("app: remote model unavailable")
)

// StartupParams are the inputs of [Startup].
type StartupParams struct {
	// Config is the loaded configuration snapshot.
	Config *config.Config

	// Missing lists absent required settings as returned by [config.Load].
	Missing []string

	// Registry builds the provider named by Config.Provider.Name.
	Registry *config.Registry

	// Tracker receives check results and the diagnostic message.
	Tracker *readiness.Tracker

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// StartupResult is the outcome of a [Startup] that did not abort.
type StartupResult struct {
	// Provider is the constructed provider, or nil when configuration was
	// incomplete or construction failed.
	Provider llm.Provider

	// Details describes the remote model when the details probe succeeded.
	Details *llm.ModelDetails

	// Ready mirrors Tracker.Ready() at the end of startup.
	Ready bool
}

// Startup moves the process from "just started" to either ready or degraded.
//
// Required settings are checked first. When they are complete the provider is
// built and asked for model details, which proves that the credentials work
// and the model exists. Each failure is recorded in the tracker as a
// user-facing diagnostic. With Config.Server.FailFast set the first failure
// is also returned as an error wrapping one of [ErrConfigurationMissing],
// [ErrRemoteAuthentication] or [ErrRemoteUnexpected]; otherwise Startup
// returns a result and the caller serves in a not-ready state.
//
// Startup is the only writer of the tracker and must complete before the
// listener is opened.
func Startup(ctx context.Context, p StartupParams) (*StartupResult, error) {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := p.Config
	res := &StartupResult{}

	// ── 1. Configuration ─────────────────────────────────────────────────
	if len(p.Missing) > 0 {
		diag := ConfigurationDiagnostic(p.Missing)
		p.Tracker.Fail(readiness.CheckConfiguration, diag)
		p.Tracker.Set(readiness.CheckModel, false)
		log.Error("configuration incomplete", "missing", p.Missing, "fail_fast", cfg.Server.FailFast)
		if cfg.Server.FailFast {
			return nil, fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(p.Missing, ", "))
		}
		return res, nil
	}
	p.Tracker.Set(readiness.CheckConfiguration, true)

	// ── 2. Remote model ──────────────────────────────────────────────────
	provider, err := p.Registry.Create(cfg.Provider)
	if err != nil {
		return fail(p, log, res, cfg.Provider.Name, err)
	}
	res.Provider = provider

	details, err := provider.Details(ctx)
	if err != nil {
		return fail(p, log, res, provider.Name(), err)
	}
	res.Details = details
	p.Tracker.Set(readiness.CheckModel, true)
	p.Tracker.SetDiagnostic("")

	// ── 3. Readiness ─────────────────────────────────────────────────────
	res.Ready = p.Tracker.Ready()
	log.Info("model ready",
		"provider", provider.Name(),
		"model", details.ModelID,
		"label", details.Label,
	)
	return res, nil
}

// fail records a remote failure. Under fail-fast it returns the wrapped
// error; under fail-soft it returns res.
func fail(p StartupParams, log *slog.Logger, res *StartupResult, providerName string, err error) (*StartupResult, error) {
	var diag string
	var sentinel error
	if errors.Is(err, llm.ErrAuthentication) {
		diag = AuthenticationDiagnostic(providerName, err)
		sentinel = ErrRemoteAuthentication
	} else {
		diag = UnexpectedDiagnostic(err)
		sentinel = ErrRemoteUnexpected
	}
	p.Tracker.Fail(readiness.CheckModel, diag)
	res.Ready = false
	log.Error("model unavailable", "provider", providerName, "err", err, "fail_fast", p.Config.Server.FailFast)

	if p.Config.Server.FailFast {
		return nil, fmt.Errorf("%w: %w", sentinel, err)
	}
	return res, nil
}

// ConfigurationDiagnostic is the message reported while required settings are
// missing.
func ConfigurationDiagnostic(missing []string) string {
	return "Configuration Error: Please set the following environment variables: " + strings.Join(missing, ", ")
}

// AuthenticationDiagnostic is the message reported when the remote service
// rejects the credentials.
func AuthenticationDiagnostic(provider string, err error) string {
	return fmt.Sprintf("Authentication Error: Could not connect to %s. Please check your API key, URL, and Project ID. Details: %v", provider, err)
}

// UnexpectedDiagnostic is the message reported for any other startup failure.
func UnexpectedDiagnostic(err error) string {
	return fmt.Sprintf("An unexpected error occurred: %v", err)
}
