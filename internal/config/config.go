// Package config provides the configuration schema, loader, and provider
// registry for inferbridge.
//
// Settings come from built-in defaults, an optional YAML settings file, an
// optional dotenv file, and the process environment, in increasing order of
// precedence. The loader reports which required settings are absent but
// never decides what to do about it; that policy belongs to the caller.
package config

import "time"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// PortStrategy selects how the bind port is acquired.
type PortStrategy string

const (
	// PortStrict binds exactly the requested port or fails.
	PortStrict PortStrategy = "strict"

	// PortScanning probes upward from the requested port until a free one
	// is found or the attempt bound is exhausted.
	PortScanning PortStrategy = "scanning"
)

// IsValid reports whether s is a recognised port strategy.
func (s PortStrategy) IsValid() bool {
	return s == PortStrict || s == PortScanning
}

// Defaults applied by [Load] before any source is read.
const (
	DefaultProvider         = "watsonx"
	DefaultModelID          = "ibm/granite-3-3-8b-instruct"
	DefaultIAMURL           = "https://iam.cloud.ibm.com"
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 6288
	DefaultPortScanAttempts = 20
	DefaultMaxNewTokens     = 512
	DefaultBreakerFailures  = 5
	DefaultBreakerReset     = 30 * time.Second
)

// Environment variable names.
const (
	EnvAPIKey           = "WATSONX_API_KEY"
	EnvURL              = "WATSONX_URL"
	EnvProjectID        = "WATSONX_PROJECT_ID"
	EnvModelID          = "MODEL_ID"
	EnvIAMURL           = "WATSONX_IAM_URL"
	EnvProvider         = "INFERENCE_PROVIDER"
	EnvAgentPort        = "WATSONX_AGENT_PORT"
	EnvPort             = "PORT"
	EnvAgentHost        = "WATSONX_AGENT_HOST"
	EnvFailFast         = "WATSONX_FAIL_FAST"
	EnvPortStrategy     = "WATSONX_PORT_STRATEGY"
	EnvPortScanAttempts = "WATSONX_PORT_SCAN_ATTEMPTS"
	EnvLogLevel         = "LOG_LEVEL"
	EnvBreakerFailures  = "INFERBRIDGE_BREAKER_FAILURES"
	EnvBreakerReset     = "INFERBRIDGE_BREAKER_RESET"
)

// RequiredEnv lists the required settings in the order they are reported
// when missing.
var RequiredEnv = []string{EnvAPIKey, EnvURL, EnvProjectID}

// Config is the immutable configuration snapshot captured at startup.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Server   ServerConfig   `yaml:"server"`
}

// ProviderConfig describes the remote inference service.
type ProviderConfig struct {
	// Name selects the registered provider implementation (e.g. "watsonx",
	// "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the credential for the remote service. Required.
	APIKey string `yaml:"api_key"`

	// URL is the endpoint of the remote service. Required.
	URL string `yaml:"url"`

	// ProjectID scopes requests to a tenant/project. Required.
	ProjectID string `yaml:"project_id"`

	// ModelID selects the hosted model.
	ModelID string `yaml:"model_id"`

	// IAMURL is the IBM Cloud IAM endpoint used by the watsonx provider.
	IAMURL string `yaml:"iam_url"`

	// MaxNewTokens caps generated tokens per chat call.
	MaxNewTokens int `yaml:"max_new_tokens"`

	// BreakerFailures is the number of consecutive generation failures that
	// opens the circuit breaker. Zero disables the breaker.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerReset is how long an open breaker rejects calls.
	BreakerReset time.Duration `yaml:"breaker_reset"`
}

// ServerConfig holds network, startup-policy and logging settings.
type ServerConfig struct {
	// Host is the interface the server binds to.
	Host string `yaml:"host"`

	// Port is the preferred bind port.
	Port int `yaml:"port"`

	// PortStrategy selects strict or scanning port acquisition.
	PortStrategy PortStrategy `yaml:"port_strategy"`

	// PortScanAttempts bounds the scanning strategy.
	PortScanAttempts int `yaml:"port_scan_attempts"`

	// FailFast terminates the process on startup failures instead of
	// serving in a degraded, not-ready state.
	FailFast bool `yaml:"fail_fast"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// Default returns a Config populated with built-in defaults only.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:            DefaultProvider,
			ModelID:         DefaultModelID,
			IAMURL:          DefaultIAMURL,
			MaxNewTokens:    DefaultMaxNewTokens,
			BreakerFailures: DefaultBreakerFailures,
			BreakerReset:    DefaultBreakerReset,
		},
		Server: ServerConfig{
			Host:             DefaultHost,
			Port:             DefaultPort,
			PortStrategy:     PortStrict,
			PortScanAttempts: DefaultPortScanAttempts,
			LogLevel:         LogInfo,
		},
	}
}

// Missing returns the environment names of required settings that are empty
// in cfg, in [RequiredEnv] order.
func (cfg *Config) Missing() []string {
	var missing []string
	values := map[string]string{
		EnvAPIKey:    cfg.Provider.APIKey,
		EnvURL:       cfg.Provider.URL,
		EnvProjectID: cfg.Provider.ProjectID,
	}
	for _, name := range RequiredEnv {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
