package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/inferbridge/internal/config"
	"github.com/MrWong99/inferbridge/internal/resilience"
	"github.com/MrWong99/inferbridge/pkg/provider/llm/mock"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		l := newLogger(tt.level)
		if !l.Handler().Enabled(t.Context(), tt.want) {
			t.Errorf("level %q: %v should be enabled", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && l.Handler().Enabled(t.Context(), tt.want-1) {
			t.Errorf("level %q: below %v should be disabled", tt.level, tt.want)
		}
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	names := reg.Names()
	for _, want := range []string{"watsonx", "openai", "anthropic", "ollama"} {
		if !slices.Contains(names, want) {
			t.Errorf("provider %q not registered; have %v", want, names)
		}
	}

	p, err := reg.Create(config.ProviderConfig{
		Name:      "watsonx",
		APIKey:    "k",
		URL:       "https://us-south.ml.cloud.ibm.com",
		ProjectID: "p",
		ModelID:   config.DefaultModelID,
		IAMURL:    config.DefaultIAMURL,
	})
	if err != nil {
		t.Fatalf("Create watsonx: %v", err)
	}
	if p.Name() != "watsonx.ai" {
		t.Errorf("Name() = %q", p.Name())
	}

	if _, err := reg.Create(config.ProviderConfig{Name: "watsonx"}); err == nil {
		t.Error("watsonx without credentials should fail to construct")
	}
}

func TestGuardProvider(t *testing.T) {
	logger := newLogger(config.LogError)
	inner := &mock.Provider{}

	if got := guardProvider(nil, config.ProviderConfig{BreakerFailures: 5}, logger); got != nil {
		t.Errorf("nil provider should stay nil, got %T", got)
	}
	if got := guardProvider(inner, config.ProviderConfig{}, logger); got != inner {
		t.Errorf("disabled breaker should return the provider unchanged, got %T", got)
	}
	got := guardProvider(inner, config.ProviderConfig{BreakerFailures: 5, BreakerReset: time.Second}, logger)
	if _, ok := got.(*resilience.GuardedProvider); !ok {
		t.Errorf("got %T, want *resilience.GuardedProvider", got)
	}
}

func TestFitRow(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "(not configured)"},
		{"watsonx", "watsonx"},
		{"ibm/granite-3-3-8b-instruct", "ibm/granite-3-3-8b..."},
		{"modèle-àéèàéèàéèàéèàéè", "modèle-àéèàéèàéèàé..."},
	}
	for _, tt := range tests {
		got := fitRow(tt.in)
		if got != tt.want {
			t.Errorf("fitRow(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("fitRow(%q) produced invalid UTF-8", tt.in)
		}
	}
}

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// setUnconfiguredEnv clears every setting run reads and points the server
// at port.
func setUnconfiguredEnv(t *testing.T, port int) {
	t.Helper()
	for _, name := range []string{
		config.EnvAPIKey, config.EnvURL, config.EnvProjectID,
		config.EnvFailFast, config.EnvPortStrategy, config.EnvPort,
		config.EnvAgentHost, config.EnvProvider, envConfigFile,
	} {
		t.Setenv(name, "")
	}
	t.Setenv(config.EnvAgentPort, strconv.Itoa(port))
	t.Setenv(config.EnvLogLevel, "error")

	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })
}

func TestRun_FailSoftServesNotReady(t *testing.T) {
	port := freePort(t)
	setUnconfiguredEnv(t, port)
	noEnvFile := filepath.Join(t.TempDir(), "absent.env")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out bytes.Buffer
	done := make(chan int, 1)
	go func() { done <- run(ctx, []string{"-env-file", noEnvFile}, &out) }()

	base := "http://127.0.0.1:" + strconv.Itoa(port)
	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		var err error
		resp, err = http.Get(base + "/readyz")
		if err == nil {
			break
		}
		select {
		case code := <-done:
			t.Fatalf("run exited early with %d", code)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	var body struct {
		Status string          `json:"status"`
		Checks map[string]bool `json:"checks"`
	}
	err := json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode /readyz: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable || body.Status != "not-ready" {
		t.Errorf("/readyz = %d %q, want 503 not-ready", resp.StatusCode, body.Status)
	}
	if body.Checks["configuration"] || body.Checks["model"] {
		t.Errorf("checks = %v, want all false", body.Checks)
	}

	for _, path := range []string{"/health", "/healthz", "/livez"} {
		r, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		r.Body.Close()
		if r.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, r.StatusCode)
		}
	}

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if !strings.Contains(out.String(), "NOT READY") {
		t.Errorf("startup summary should report NOT READY:\n%s", out.String())
	}
}

func TestRun_FailFastExitsBeforeBinding(t *testing.T) {
	port := freePort(t)
	setUnconfiguredEnv(t, port)
	noEnvFile := filepath.Join(t.TempDir(), "absent.env")

	var out bytes.Buffer
	code := run(context.Background(), []string{"-env-file", noEnvFile, "-fail-fast"}, &out)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if out.Len() != 0 {
		t.Errorf("no startup summary expected, got:\n%s", out.String())
	}

	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("port %d should still be free: %v", port, err)
	}
	_ = ln.Close()
}

func TestRun_BadFlag(t *testing.T) {
	if code := run(context.Background(), []string{"-no-such-flag"}, &bytes.Buffer{}); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}
