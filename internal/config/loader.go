package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// Options controls where [Load] looks for settings. The zero value reads the
// process environment only.
type Options struct {
	// SettingsFile is an optional YAML file layered over the defaults.
	// An empty path skips this source; a non-empty path must exist.
	SettingsFile string

	// EnvFiles are dotenv files read in order. Missing files are skipped.
	// Values never override variables already present in the environment.
	EnvFiles []string

	// LookupEnv replaces os.LookupEnv. Useful in tests.
	LookupEnv func(string) (string, bool)
}

// Load builds a [Config] from built-in defaults, the optional settings file,
// the dotenv files and the process environment, in increasing precedence.
//
// Empty values count as unset. The returned slice names the required
// environment variables that are still unset, in [RequiredEnv] order; their
// absence is not an error. A non-nil error means a source could not be read
// or an optional value was malformed.
func Load(opts Options) (*Config, []string, error) {
	cfg := Default()

	if opts.SettingsFile != "" {
		if err := loadSettingsFile(cfg, opts.SettingsFile); err != nil {
			return nil, nil, err
		}
	}

	dotenv, err := readEnvFiles(opts.EnvFiles)
	if err != nil {
		return nil, nil, err
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) string {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(dotenv[name])
	}

	if err := applyEnv(cfg, get); err != nil {
		return nil, nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Missing(), nil
}

// LoadFromReader decodes YAML settings from r on top of the built-in
// defaults and validates the result. No environment source is consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(cfg, r); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSettingsFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	if err := decodeYAML(cfg, f); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

func decodeYAML(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// readEnvFiles merges dotenv files. Earlier files win, matching the rule
// that a dotenv value never replaces one that is already set.
func readEnvFiles(paths []string) (map[string]string, error) {
	merged := make(map[string]string)
	for _, p := range paths {
		if p == "" {
			continue
		}
		env, err := gotenv.Read(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: read env file %q: %w", p, err)
		}
		for k, v := range env {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	return merged, nil
}

// applyEnv overlays environment values on cfg. Every malformed value is
// reported, not just the first.
func applyEnv(cfg *Config, get func(string) string) error {
	var errs []error

	setString := func(dst *string, name string) {
		if v := get(name); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, name string) {
		v := get(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not an integer", name, v))
			return
		}
		*dst = n
	}

	setString(&cfg.Provider.Name, EnvProvider)
	setString(&cfg.Provider.APIKey, EnvAPIKey)
	setString(&cfg.Provider.URL, EnvURL)
	setString(&cfg.Provider.ProjectID, EnvProjectID)
	setString(&cfg.Provider.ModelID, EnvModelID)
	setString(&cfg.Provider.IAMURL, EnvIAMURL)
	setString(&cfg.Server.Host, EnvAgentHost)

	// WATSONX_AGENT_PORT takes priority over the generic PORT.
	if get(EnvAgentPort) != "" {
		setInt(&cfg.Server.Port, EnvAgentPort)
	} else {
		setInt(&cfg.Server.Port, EnvPort)
	}
	setInt(&cfg.Server.PortScanAttempts, EnvPortScanAttempts)
	setInt(&cfg.Provider.BreakerFailures, EnvBreakerFailures)

	if v := get(EnvBreakerReset); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not a duration", EnvBreakerReset, v))
		} else {
			cfg.Provider.BreakerReset = d
		}
	}

	if v := get(EnvFailFast); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not a boolean", EnvFailFast, v))
		} else {
			cfg.Server.FailFast = b
		}
	}
	if v := get(EnvPortStrategy); v != "" {
		cfg.Server.PortStrategy = PortStrategy(strings.ToLower(v))
	}
	if v := get(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks that cfg contains a coherent set of optional values.
// Required settings are not checked here; see [Config.Missing].
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	}
	if cfg.Provider.ModelID == "" {
		errs = append(errs, errors.New("provider.model_id is required"))
	}
	if cfg.Provider.MaxNewTokens <= 0 {
		errs = append(errs, fmt.Errorf("provider.max_new_tokens %d must be positive", cfg.Provider.MaxNewTokens))
	}
	if cfg.Provider.BreakerFailures < 0 {
		errs = append(errs, fmt.Errorf("provider.breaker_failures %d must not be negative", cfg.Provider.BreakerFailures))
	}
	if cfg.Provider.BreakerFailures > 0 && cfg.Provider.BreakerReset <= 0 {
		errs = append(errs, fmt.Errorf("provider.breaker_reset %s must be positive", cfg.Provider.BreakerReset))
	}
	if cfg.Server.Host == "" {
		errs = append(errs, errors.New("server.host is required"))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if !cfg.Server.PortStrategy.IsValid() {
		errs = append(errs, fmt.Errorf("server.port_strategy %q is invalid; valid values: strict, scanning", cfg.Server.PortStrategy))
	}
	if cfg.Server.PortScanAttempts < 1 {
		errs = append(errs, fmt.Errorf("server.port_scan_attempts %d must be at least 1", cfg.Server.PortScanAttempts))
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	return errors.Join(errs...)
}
