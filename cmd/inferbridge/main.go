// Command inferbridge exposes a hosted LLM inference endpoint as an MCP tool
// server over SSE, with health probes and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/inferbridge/internal/app"
	"github.com/MrWong99/inferbridge/internal/config"
	"github.com/MrWong99/inferbridge/internal/netutil"
	"github.com/MrWong99/inferbridge/internal/observe"
	"github.com/MrWong99/inferbridge/internal/readiness"
	"github.com/MrWong99/inferbridge/internal/resilience"
	"github.com/MrWong99/inferbridge/pkg/provider/llm"
	"github.com/MrWong99/inferbridge/pkg/provider/llm/anyllm"
	"github.com/MrWong99/inferbridge/pkg/provider/llm/openai"
	"github.com/MrWong99/inferbridge/pkg/provider/llm/watsonx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// envConfigFile names the settings file when -config is not given.
const envConfigFile = "INFERBRIDGE_CONFIG"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout))
}

// run starts the server and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives. It returns the process exit code. The startup summary goes to out.
func run(parent context.Context, args []string, out io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("inferbridge", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(envConfigFile), "path to an optional YAML settings file")
	envFile := fs.String("env-file", ".env", "dotenv file to read; missing files are ignored")
	failFast := fs.Bool("fail-fast", false, "exit on startup failures instead of serving not-ready")
	portStrategy := fs.String("port-strategy", "", "port acquisition: strict or scanning")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, missing, err := config.Load(config.Options{
		SettingsFile: *configPath,
		EnvFiles:     []string{*envFile},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "inferbridge: %v\n", err)
		return 1
	}

	// Flags override every other source.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "fail-fast":
			cfg.Server.FailFast = *failFast
		case "port-strategy":
			cfg.Server.PortStrategy = config.PortStrategy(*portStrategy)
		}
	})
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "inferbridge: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("inferbridge starting",
		"version", version,
		"provider", cfg.Provider.Name,
		"model", cfg.Provider.ModelID,
		"fail_fast", cfg.Server.FailFast,
		"port_strategy", cfg.Server.PortStrategy,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(telemetry.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	tracker := readiness.New()
	if err := observe.RegisterReadiness(telemetry.MeterProvider, tracker.Ready); err != nil {
		slog.Error("failed to register readiness gauge", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Startup checks ────────────────────────────────────────────────────────
	res, err := app.Startup(ctx, app.StartupParams{
		Config:   cfg,
		Missing:  missing,
		Registry: reg,
		Tracker:  tracker,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("startup failed", "err", err)
		return 1
	}

	// ── Listener ──────────────────────────────────────────────────────────────
	resolver := netutil.NewResolver(cfg.Server, logger)
	ln, err := resolver.Listen(ctx, cfg.Server.Port)
	if err != nil {
		slog.Error("failed to acquire port", "err", err)
		return 1
	}

	printStartupSummary(out, cfg, tracker, ln.Addr().String())

	provider := guardProvider(res.Provider, cfg.Provider, logger)

	application := app.New(cfg, tracker, provider,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(telemetry.MetricsHandler()),
		app.WithVersion(version),
	)

	if tracker.Ready() {
		slog.Info("server ready, press Ctrl+C to shut down", "addr", ln.Addr().String())
	} else {
		slog.Warn("server running in degraded mode", "addr", ln.Addr().String(), "diagnostic", tracker.Diagnostic())
	}

	if err := application.Run(ctx, ln); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("watsonx", func(entry config.ProviderConfig) (llm.Provider, error) {
		return watsonx.New(entry.APIKey, entry.URL, entry.ProjectID,
			watsonx.WithModel(entry.ModelID),
			watsonx.WithIAMURL(entry.IAMURL),
		)
	})

	// OpenAI-compatible endpoints: URL is the base URL, ProjectID the
	// OpenAI project.
	reg.Register("openai", func(entry config.ProviderConfig) (llm.Provider, error) {
		var opts []openai.Option
		if entry.URL != "" {
			opts = append(opts, openai.WithBaseURL(entry.URL))
		}
		if entry.ProjectID != "" {
			opts = append(opts, openai.WithProject(entry.ProjectID))
		}
		return openai.New(entry.APIKey, entry.ModelID, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, ollama, llamacpp all share
	// the same pattern: optional APIKey + optional base URL.
	for _, providerName := range anyllm.SupportedProviders {
		if providerName == "openai" {
			continue
		}
		reg.Register(providerName, func(entry config.ProviderConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.URL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.URL))
			}
			return anyllm.New(providerName, entry.ModelID, opts...)
		})
	}

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "name", name)
	}
}

// guardProvider puts a circuit breaker in front of p unless the breaker is
// disabled or startup produced no provider.
func guardProvider(p llm.Provider, cfg config.ProviderConfig, logger *slog.Logger) llm.Provider {
	if p == nil || cfg.BreakerFailures == 0 {
		return p
	}
	return resilience.NewGuardedProvider(p, resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.BreakerFailures,
		ResetTimeout: cfg.BreakerReset,
		Logger:       logger,
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, tracker *readiness.Tracker, addr string) {
	state := "ready"
	if !tracker.Ready() {
		state = "NOT READY"
	}
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      inferbridge: startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Provider", cfg.Provider.Name)
	printRow(w, "Model", cfg.Provider.ModelID)
	printRow(w, "Listen addr", addr)
	printRow(w, "SSE endpoint", "/sse")
	printRow(w, "State", state)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

// summaryWidth is the value column width of the startup summary box.
const summaryWidth = 21

func printRow(w io.Writer, label, value string) {
	fmt.Fprintf(w, "║  %-12s : %-21s ║\n", label, fitRow(value))
}

// fitRow truncates value to summaryWidth runes, marking the cut with "...".
func fitRow(value string) string {
	if value == "" {
		return "(not configured)"
	}
	r := []rune(value)
	if len(r) > summaryWidth {
		return string(r[:summaryWidth-3]) + "..."
	}
	return value
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
