package config

import "time"

// Config is the root configuration structure for the relay. One file serves
// both processes: `relay serve` reads the gateway section, `relay backend`
// reads the backend section, and both share hop, store and telemetry.
type Config struct {
	// Gateway contains the public edge listener configuration.
	Gateway GatewayConfig `yaml:"gateway"`

	// Backend contains the private backend listener configuration.
	Backend BackendConfig `yaml:"backend"`

	// Hop contains the shared secret and clock skew bound used to sign and
	// verify gateway to backend requests.
	Hop HopConfig `yaml:"hop"`

	// Store selects the keyed store shared by the rate limiter and the
	// replay guard.
	Store StoreConfig `yaml:"store"`

	// RateLimit contains the burst and sustained limits per identity.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Replay contains replay guard settings.
	Replay ReplayConfig `yaml:"replay"`

	// Moderation contains the content safety classifier settings.
	Moderation ModerationConfig `yaml:"moderation"`

	// Redaction contains the conditional disclosure rules.
	Redaction RedactionConfig `yaml:"redaction"`

	// Audit contains the security event recorder settings.
	Audit AuditConfig `yaml:"audit"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains the HTTP listener settings shared by both processes.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on ("host:port").
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds the whole response. Streams are long lived, so
	// this must cover the longest expected reply.
	// Default: 5m
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum keep-alive idle time.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the graceful shutdown deadline.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1MB
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// GatewayConfig contains configuration for the public gateway.
type GatewayConfig struct {
	Server ServerConfig `yaml:"server"`

	// ChatPath is the route of the streaming chat endpoint.
	// Default: "/api/chat"
	ChatPath string `yaml:"chat_path"`

	// AllowedOrigins lists the browser origins accepted on chat requests.
	// Empty means any origin (including none) is accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// CORS controls preflight and response headers.
	CORS CORSConfig `yaml:"cors"`

	// BackendURL is the full URL of the backend chat endpoint.
	BackendURL string `yaml:"backend_url"`

	// BackendTimeout bounds the wait for the backend's response headers.
	// The stream itself is bounded only by the client and WriteTimeout.
	// Default: 30s
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	// MaxBodyBytes limits the request body.
	// Default: 64KB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// MaxMessages limits the conversation length.
	// Default: 50
	MaxMessages int `yaml:"max_messages"`

	// MaxMessageRunes limits each message after sanitization.
	// Default: 4000
	MaxMessageRunes int `yaml:"max_message_runes"`

	// TrustForwarded uses the first X-Forwarded-For hop as the client IP.
	// Enable only behind a proxy that sets the header.
	TrustForwarded bool `yaml:"trust_forwarded"`

	// ClientIDHeader, when set, names a header whose value is used as the
	// rate limit identity instead of the client IP.
	ClientIDHeader string `yaml:"client_id_header"`
}

// CORSConfig contains CORS settings for the gateway.
type CORSConfig struct {
	// Enabled controls whether CORS headers are emitted.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// AllowedMethods lists methods allowed in preflight responses.
	// Default: ["POST", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders lists headers allowed in preflight responses.
	// Default: ["Content-Type", "X-Request-ID"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// MaxAge is the preflight cache duration in seconds.
	// Default: 3600
	MaxAge int `yaml:"max_age"`
}

// BackendConfig contains configuration for the backend service.
type BackendConfig struct {
	Server ServerConfig `yaml:"server"`

	// ChatPath is the route of the hop-authenticated chat endpoint.
	// Default: "/internal/chat"
	ChatPath string `yaml:"chat_path"`

	// Moderate re-runs the moderation gate on the backend.
	Moderate bool `yaml:"moderate"`

	// Upstream is the generation endpoint the backend streams from.
	Upstream UpstreamConfig `yaml:"upstream"`
}

// UpstreamConfig describes an OpenAI-compatible streaming chat endpoint.
type UpstreamConfig struct {
	// URL is the full chat completions URL.
	URL string `yaml:"url"`

	// APIKey is sent as a Bearer token. Supports env: and file: references.
	APIKey string `yaml:"api_key"`

	// Model is the model name sent upstream.
	Model string `yaml:"model"`

	// MaxTokens caps the reply length (0 = upstream default).
	MaxTokens int `yaml:"max_tokens"`

	// Timeout bounds the wait for response headers.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// HopConfig contains the inter-service authentication settings.
type HopConfig struct {
	// Secret is the shared HMAC key. Supports env:NAME and file:/path
	// references, resolved at load time.
	Secret string `yaml:"secret"`

	// MaxSkew is the accepted clock difference between sender and receiver.
	// Default: 3m
	MaxSkew time.Duration `yaml:"max_skew"`
}

// StoreConfig selects the keyed store backend.
type StoreConfig struct {
	// Backend is "memory", "sqlite" or "redis".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// CleanupInterval is how often the memory store sweeps expired keys.
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// CleanupSchedule is the cron schedule for sqlite expired-key cleanup.
	// Default: "@every 5m"
	CleanupSchedule string `yaml:"cleanup_schedule"`

	SQLite SQLiteStoreConfig `yaml:"sqlite"`
	Redis  RedisStoreConfig  `yaml:"redis"`
}

// SQLiteStoreConfig configures the durable SQLite store.
type SQLiteStoreConfig struct {
	// Path is the database file.
	// Default: "data/relay-store.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait on locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RedisStoreConfig configures the Redis store.
type RedisStoreConfig struct {
	// URL is a redis:// or rediss:// URL. Supports env: and file: references.
	URL string `yaml:"url"`

	// KeyPrefix is prepended to every key.
	// Default: "relay:"
	KeyPrefix string `yaml:"key_prefix"`

	// DialTimeout bounds the initial connection check.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// LockTTL expires a per-key update lock whose holder died.
	// Default: 5s
	LockTTL time.Duration `yaml:"lock_ttl"`

	// LockWait bounds how long an update waits for a per-key lock before
	// failing with contention.
	// Default: 2s
	LockWait time.Duration `yaml:"lock_wait"`
}

// RateLimitConfig contains the per-identity admission limits.
type RateLimitConfig struct {
	// Enabled controls rate limiting.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// BurstLimit is the maximum requests per burst window.
	// Default: 5
	BurstLimit int `yaml:"burst_limit"`

	// BurstWindow is the fixed burst window.
	// Default: 10s
	BurstWindow time.Duration `yaml:"burst_window"`

	// SustainedLimit is the maximum requests in the rolling window.
	// Default: 60
	SustainedLimit int `yaml:"sustained_limit"`

	// SustainedBuckets is the number of buckets in the rolling window.
	// Default: 5
	SustainedBuckets int `yaml:"sustained_buckets"`

	// BucketSize is the size of one sustained bucket.
	// Default: 1m
	BucketSize time.Duration `yaml:"bucket_size"`
}

// ReplayConfig contains replay guard settings.
type ReplayConfig struct {
	// TTL is how long a consumed nonce is remembered. It must cover the
	// whole skew window on both sides.
	// Default: 2 x hop.max_skew
	TTL time.Duration `yaml:"ttl"`

	// FailOpen admits requests with a warning when the store is unavailable.
	// Default: false (reject with 503)
	FailOpen bool `yaml:"fail_open"`
}

// ModerationConfig contains the content safety classifier settings.
type ModerationConfig struct {
	// Enabled controls the moderation gate on the gateway.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// URL is the classifier endpoint.
	URL string `yaml:"url"`

	// APIKey is sent as a Bearer token. Supports env: and file: references.
	APIKey string `yaml:"api_key"`

	// Timeout bounds one classifier call.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond throttles outbound classifier calls (0 = unlimited).
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the throttle burst size.
	// Default: 1 when RequestsPerSecond is set
	Burst int `yaml:"burst"`

	// MaxResponseBytes limits the classifier reply.
	// Default: 1MB
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
}

// RedactionConfig contains the conditional disclosure settings.
type RedactionConfig struct {
	// RulesFile is a YAML file with triggers and fragments.
	RulesFile string `yaml:"rules_file"`

	// Watch hot-reloads RulesFile on change.
	Watch bool `yaml:"watch"`

	// Debounce delays reloads after a burst of file events.
	// Default: 250ms
	Debounce time.Duration `yaml:"debounce"`

	// Triggers are used when RulesFile is empty. Empty means built-in phrases.
	Triggers []string `yaml:"triggers"`

	// Fragments are used when RulesFile is empty.
	Fragments []string `yaml:"fragments"`
}

// AuditConfig contains the security event recorder settings.
type AuditConfig struct {
	// Enabled controls audit recording.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend is "memory" or "sqlite".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLitePath is the audit database file.
	// Default: "data/audit.db"
	SQLitePath string `yaml:"sqlite_path"`

	// BufferSize is the recorder channel capacity.
	// Default: 1000
	BufferSize int `yaml:"buffer_size"`

	// WriteTimeout bounds one storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RetentionDays is how long events are kept (0 = forever).
	// Default: 30
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is the cron schedule for retention pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig contains distributed tracing configuration. Trace context
// travels on the hop, so a gateway request and its backend call share one
// trace.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler is "always", "never" or "ratio".
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of root traces sampled with the ratio sampler.
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address ("host:port").
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig contains logger configuration.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format (json, text).
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log entries.
	AddSource bool `yaml:"add_source"`

	// RedactSecrets masks secrets, signatures and tokens in log fields.
	// Default: true
	RedactSecrets bool `yaml:"redact_secrets"`

	// RedactPatterns contains extra redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom log redaction pattern.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "relay"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "gateway"
	Subsystem string `yaml:"subsystem"`

	// RequestDurationBuckets defines histogram buckets for request duration (seconds).
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}
