package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinSecretLength is the minimum hop secret length in bytes.
const MinSecretLength = 32

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "hop.secret").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the configuration shared by both processes and returns
// a ValidationError listing every problem found.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer("gateway.server", &cfg.Gateway.Server)...)
	errs = append(errs, validateServer("backend.server", &cfg.Backend.Server)...)
	errs = append(errs, validateGateway(&cfg.Gateway)...)
	errs = append(errs, validateBackend(&cfg.Backend)...)
	errs = append(errs, validateHop(&cfg.Hop)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validateReplay(&cfg.Replay, &cfg.Hop)...)
	errs = append(errs, validateModeration(&cfg.Moderation)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// ValidateGateway checks the settings `relay serve` cannot run without.
func ValidateGateway(cfg *Config) error {
	var errs []FieldError
	if cfg.Gateway.BackendURL == "" {
		errs = append(errs, FieldError{Field: "gateway.backend_url", Message: "backend URL is required"})
	}
	if cfg.Moderation.Enabled && cfg.Moderation.URL == "" {
		errs = append(errs, FieldError{Field: "moderation.url", Message: "classifier URL is required when moderation is enabled"})
	}
	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// ValidateBackend checks the settings `relay backend` cannot run without.
func ValidateBackend(cfg *Config) error {
	var errs []FieldError
	if cfg.Backend.Upstream.URL == "" {
		errs = append(errs, FieldError{Field: "backend.upstream.url", Message: "upstream URL is required"})
	}
	if cfg.Backend.Moderate && cfg.Moderation.URL == "" {
		errs = append(errs, FieldError{Field: "moderation.url", Message: "classifier URL is required when backend moderation is enabled"})
	}
	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(prefix string, cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: prefix + ".listen_address", Message: "listen address is required"})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: prefix + ".read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: prefix + ".write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: prefix + ".idle_timeout", Message: "idle timeout must be positive"})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: prefix + ".max_header_bytes", Message: "max header bytes must be non-negative"})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{Field: prefix + ".max_header_bytes", Message: "max header bytes exceeds reasonable limit (10MB)"})
	}

	return errs
}

func validateGateway(cfg *GatewayConfig) []FieldError {
	var errs []FieldError

	if !strings.HasPrefix(cfg.ChatPath, "/") {
		errs = append(errs, FieldError{Field: "gateway.chat_path", Message: "path must start with /"})
	}
	if cfg.BackendURL != "" {
		errs = append(errs, validateURL("gateway.backend_url", cfg.BackendURL)...)
	}
	if cfg.BackendTimeout < 0 {
		errs = append(errs, FieldError{Field: "gateway.backend_timeout", Message: "timeout must be positive"})
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{Field: "gateway.max_body_bytes", Message: "max body bytes must be positive"})
	}
	if cfg.MaxMessages <= 0 {
		errs = append(errs, FieldError{Field: "gateway.max_messages", Message: "max messages must be positive"})
	}
	if cfg.MaxMessageRunes <= 0 {
		errs = append(errs, FieldError{Field: "gateway.max_message_runes", Message: "max message runes must be positive"})
	}
	for i, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("gateway.allowed_origins[%d]", i),
				Message: fmt.Sprintf("invalid origin %q (expected scheme://host[:port])", origin),
			})
		}
	}
	if cfg.CORS.MaxAge < 0 {
		errs = append(errs, FieldError{Field: "gateway.cors.max_age", Message: "max age must be non-negative"})
	}

	return errs
}

func validateBackend(cfg *BackendConfig) []FieldError {
	var errs []FieldError

	if !strings.HasPrefix(cfg.ChatPath, "/") {
		errs = append(errs, FieldError{Field: "backend.chat_path", Message: "path must start with /"})
	}
	if cfg.Upstream.URL != "" {
		errs = append(errs, validateURL("backend.upstream.url", cfg.Upstream.URL)...)
	}
	if cfg.Upstream.MaxTokens < 0 {
		errs = append(errs, FieldError{Field: "backend.upstream.max_tokens", Message: "max tokens must be non-negative"})
	}
	if cfg.Upstream.Timeout < 0 {
		errs = append(errs, FieldError{Field: "backend.upstream.timeout", Message: "timeout must be positive"})
	}

	return errs
}

func validateHop(cfg *HopConfig) []FieldError {
	var errs []FieldError

	if cfg.Secret == "" {
		errs = append(errs, FieldError{Field: "hop.secret", Message: "hop secret is required"})
	} else if len(cfg.Secret) < MinSecretLength {
		errs = append(errs, FieldError{
			Field:   "hop.secret",
			Message: fmt.Sprintf("hop secret must be at least %d bytes", MinSecretLength),
		})
	}
	if cfg.MaxSkew < time.Second {
		errs = append(errs, FieldError{Field: "hop.max_skew", Message: "max skew must be at least 1s"})
	}
	if cfg.MaxSkew > 15*time.Minute {
		errs = append(errs, FieldError{Field: "hop.max_skew", Message: "max skew exceeds reasonable limit (15m)"})
	}

	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
		if cfg.CleanupInterval < 0 {
			errs = append(errs, FieldError{Field: "store.cleanup_interval", Message: "cleanup interval must be positive"})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "store.sqlite.path", Message: "path is required for sqlite store"})
		}
		errs = append(errs, validateSchedule("store.cleanup_schedule", cfg.CleanupSchedule)...)
	case "redis":
		if cfg.Redis.URL == "" {
			errs = append(errs, FieldError{Field: "store.redis.url", Message: "url is required for redis store"})
		} else if u, err := url.Parse(cfg.Redis.URL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, FieldError{Field: "store.redis.url", Message: "url must use redis:// or rediss://"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q (must be one of: memory, sqlite, redis)", cfg.Backend),
		})
	}

	return errs
}

func validateRateLimit(cfg *RateLimitConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}
	if cfg.BurstLimit <= 0 {
		errs = append(errs, FieldError{Field: "rate_limit.burst_limit", Message: "burst limit must be positive"})
	}
	if cfg.BurstWindow < time.Millisecond {
		errs = append(errs, FieldError{Field: "rate_limit.burst_window", Message: "burst window must be at least 1ms"})
	}
	if cfg.SustainedLimit <= 0 {
		errs = append(errs, FieldError{Field: "rate_limit.sustained_limit", Message: "sustained limit must be positive"})
	}
	if cfg.SustainedBuckets <= 0 {
		errs = append(errs, FieldError{Field: "rate_limit.sustained_buckets", Message: "sustained buckets must be positive"})
	}
	if cfg.BucketSize < time.Millisecond {
		errs = append(errs, FieldError{Field: "rate_limit.bucket_size", Message: "bucket size must be at least 1ms"})
	}
	if cfg.BurstLimit > 0 && cfg.SustainedLimit > 0 && cfg.BurstLimit > cfg.SustainedLimit {
		errs = append(errs, FieldError{Field: "rate_limit.burst_limit", Message: "burst limit cannot exceed sustained limit"})
	}

	return errs
}

func validateReplay(cfg *ReplayConfig, hop *HopConfig) []FieldError {
	var errs []FieldError

	if cfg.TTL < hop.MaxSkew {
		errs = append(errs, FieldError{
			Field:   "replay.ttl",
			Message: fmt.Sprintf("ttl must be at least hop.max_skew (%s)", hop.MaxSkew),
		})
	}

	return errs
}

func validateModeration(cfg *ModerationConfig) []FieldError {
	var errs []FieldError

	if cfg.URL != "" {
		errs = append(errs, validateURL("moderation.url", cfg.URL)...)
	}
	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: "moderation.timeout", Message: "timeout must be positive"})
	}
	if cfg.RequestsPerSecond < 0 {
		errs = append(errs, FieldError{Field: "moderation.requests_per_second", Message: "requests per second must be non-negative"})
	}
	if cfg.Burst < 0 {
		errs = append(errs, FieldError{Field: "moderation.burst", Message: "burst must be non-negative"})
	}
	if cfg.MaxResponseBytes <= 0 {
		errs = append(errs, FieldError{Field: "moderation.max_response_bytes", Message: "max response bytes must be positive"})
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}
	validBackends := map[string]bool{"memory": true, "sqlite": true}
	if !validBackends[cfg.Backend] {
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid backend %q (must be one of: memory, sqlite)", cfg.Backend),
		})
	}
	if cfg.Backend == "sqlite" && cfg.SQLitePath == "" {
		errs = append(errs, FieldError{Field: "audit.sqlite_path", Message: "path is required for sqlite backend"})
	}
	if cfg.BufferSize <= 0 {
		errs = append(errs, FieldError{Field: "audit.buffer_size", Message: "buffer size must be positive"})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{Field: "audit.retention_days", Message: "retention days must be non-negative"})
	}
	if cfg.RetentionDays > 0 {
		errs = append(errs, validateSchedule("audit.prune_schedule", cfg.PruneSchedule)...)
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be one of: debug, info, warn, error)", cfg.Logging.Level),
		})
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be one of: json, text)", cfg.Logging.Format),
		})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if p.Name == "" || p.Pattern == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d]", i),
				Message: "name and pattern are required",
			})
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
	}
	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be one of: always, never, ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be between 0.0 and 1.0"})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "collector endpoint is required"})
		}
	}

	return errs
}

func validateURL(field, raw string) []FieldError {
	u, err := url.Parse(raw)
	if err != nil {
		return []FieldError{{Field: field, Message: fmt.Sprintf("invalid URL format: %v", err)}}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []FieldError{{Field: field, Message: "URL must use http or https"}}
	}
	if u.Host == "" {
		return []FieldError{{Field: field, Message: "URL must include a host"}}
	}
	return nil
}

func validateSchedule(field, spec string) []FieldError {
	if _, err := cron.ParseStandard(spec); err != nil {
		return []FieldError{{Field: field, Message: fmt.Sprintf("invalid cron schedule %q: %v", spec, err)}}
	}
	return nil
}
