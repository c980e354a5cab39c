package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// Remaining zero values get defaults, secret references are resolved and the result is validated.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention RELAY_SECTION_FIELD (e.g., RELAY_GATEWAY_LISTEN_ADDRESS) and
// always take precedence over the file.
//
// The loading sequence is:
// 1. Load YAML from file on top of defaults
// 2. Apply environment variable overrides
// 3. Resolve env: and file: secret references
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	cfg := newBaseConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finalize(cfg *Config) error {
	ApplyDefaults(cfg)

	if err := ResolveSecrets(cfg); err != nil {
		return err
	}

	if err := Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// ResolveSecrets replaces env:NAME and file:/path references in secret
// fields with their values.
func ResolveSecrets(cfg *Config) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"hop.secret", &cfg.Hop.Secret},
		{"moderation.api_key", &cfg.Moderation.APIKey},
		{"backend.upstream.api_key", &cfg.Backend.Upstream.APIKey},
		{"store.redis.url", &cfg.Store.Redis.URL},
	}

	for _, f := range fields {
		resolved, err := resolveSecret(*f.value)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", f.name, err)
		}
		*f.value = resolved
	}
	return nil
}

func resolveSecret(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		val, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return val, nil
	case strings.HasPrefix(ref, "file:"):
		data, err := os.ReadFile(strings.TrimPrefix(ref, "file:"))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return ref, nil
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format RELAY_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Gateway overrides
	if val := os.Getenv("RELAY_GATEWAY_LISTEN_ADDRESS"); val != "" {
		cfg.Gateway.Server.ListenAddress = val
	}
	if val := os.Getenv("RELAY_GATEWAY_BACKEND_URL"); val != "" {
		cfg.Gateway.BackendURL = val
	}
	if val := os.Getenv("RELAY_GATEWAY_BACKEND_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Gateway.BackendTimeout = d
		}
	}
	if val := os.Getenv("RELAY_GATEWAY_ALLOWED_ORIGINS"); val != "" {
		cfg.Gateway.AllowedOrigins = splitList(val)
	}
	if val := os.Getenv("RELAY_GATEWAY_TRUST_FORWARDED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Gateway.TrustForwarded = b
		}
	}

	// Backend overrides
	if val := os.Getenv("RELAY_BACKEND_LISTEN_ADDRESS"); val != "" {
		cfg.Backend.Server.ListenAddress = val
	}
	if val := os.Getenv("RELAY_BACKEND_MODERATE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Backend.Moderate = b
		}
	}
	if val := os.Getenv("RELAY_BACKEND_UPSTREAM_URL"); val != "" {
		cfg.Backend.Upstream.URL = val
	}
	if val := os.Getenv("RELAY_BACKEND_UPSTREAM_API_KEY"); val != "" {
		cfg.Backend.Upstream.APIKey = val
	}
	if val := os.Getenv("RELAY_BACKEND_UPSTREAM_MODEL"); val != "" {
		cfg.Backend.Upstream.Model = val
	}

	// Hop overrides
	if val := os.Getenv("RELAY_HOP_SECRET"); val != "" {
		cfg.Hop.Secret = val
	}
	if val := os.Getenv("RELAY_HOP_MAX_SKEW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Hop.MaxSkew = d
		}
	}

	// Store overrides
	if val := os.Getenv("RELAY_STORE_BACKEND"); val != "" {
		cfg.Store.Backend = val
	}
	if val := os.Getenv("RELAY_STORE_SQLITE_PATH"); val != "" {
		cfg.Store.SQLite.Path = val
	}
	if val := os.Getenv("RELAY_STORE_REDIS_URL"); val != "" {
		cfg.Store.Redis.URL = val
	}

	// Rate limit overrides
	if val := os.Getenv("RELAY_RATE_LIMIT_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.RateLimit.Enabled = b
		}
	}
	if val := os.Getenv("RELAY_RATE_LIMIT_BURST_LIMIT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.RateLimit.BurstLimit = i
		}
	}
	if val := os.Getenv("RELAY_RATE_LIMIT_SUSTAINED_LIMIT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.RateLimit.SustainedLimit = i
		}
	}

	// Replay overrides
	if val := os.Getenv("RELAY_REPLAY_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Replay.TTL = d
		}
	}
	if val := os.Getenv("RELAY_REPLAY_FAIL_OPEN"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Replay.FailOpen = b
		}
	}

	// Moderation overrides
	if val := os.Getenv("RELAY_MODERATION_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Moderation.Enabled = b
		}
	}
	if val := os.Getenv("RELAY_MODERATION_URL"); val != "" {
		cfg.Moderation.URL = val
	}
	if val := os.Getenv("RELAY_MODERATION_API_KEY"); val != "" {
		cfg.Moderation.APIKey = val
	}
	if val := os.Getenv("RELAY_MODERATION_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Moderation.Timeout = d
		}
	}

	// Redaction overrides
	if val := os.Getenv("RELAY_REDACTION_RULES_FILE"); val != "" {
		cfg.Redaction.RulesFile = val
	}

	// Audit overrides
	if val := os.Getenv("RELAY_AUDIT_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Audit.Enabled = b
		}
	}
	if val := os.Getenv("RELAY_AUDIT_BACKEND"); val != "" {
		cfg.Audit.Backend = val
	}
	if val := os.Getenv("RELAY_AUDIT_SQLITE_PATH"); val != "" {
		cfg.Audit.SQLitePath = val
	}
	if val := os.Getenv("RELAY_AUDIT_RETENTION_DAYS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Audit.RetentionDays = i
		}
	}

	// Telemetry overrides
	if val := os.Getenv("RELAY_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("RELAY_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("RELAY_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("RELAY_TELEMETRY_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Tracing.Enabled = b
		}
	}
	if val := os.Getenv("RELAY_TELEMETRY_TRACING_ENDPOINT"); val != "" {
		cfg.Telemetry.Tracing.Endpoint = val
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
