package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultGatewayListenAddress = "127.0.0.1:8080"
	DefaultBackendListenAddress = "127.0.0.1:8081"
	DefaultReadTimeout          = 15 * time.Second
	DefaultWriteTimeout         = 5 * time.Minute
	DefaultIdleTimeout          = 120 * time.Second
	DefaultShutdownTimeout      = 30 * time.Second
	DefaultMaxHeaderBytes       = 1048576 // 1MB

	// Gateway defaults
	DefaultGatewayChatPath  = "/api/chat"
	DefaultBackendTimeout   = 30 * time.Second
	DefaultMaxBodyBytes     = int64(64 * 1024)
	DefaultMaxMessages      = 50
	DefaultMaxMessageRunes  = 4000
	DefaultCORSMaxAge       = 3600 // 1 hour
	DefaultBackendChatPath  = "/internal/chat"
	DefaultUpstreamTimeout  = 30 * time.Second
	DefaultHopMaxSkew       = 3 * time.Minute
	DefaultStoreBackend     = "memory"
	DefaultStoreCleanup     = time.Minute
	DefaultStoreCleanupCron = "@every 5m"
	DefaultStoreSQLitePath  = "data/relay-store.db"
	DefaultStoreBusyTimeout = 5 * time.Second
	DefaultRedisKeyPrefix   = "relay:"
	DefaultRedisDialTimeout = 5 * time.Second
	DefaultRedisLockTTL     = 5 * time.Second
	DefaultRedisLockWait    = 2 * time.Second

	// Rate limit defaults: 5 per 10s and 60 per 5 minutes.
	DefaultBurstLimit       = 5
	DefaultBurstWindow      = 10 * time.Second
	DefaultSustainedLimit   = 60
	DefaultSustainedBuckets = 5
	DefaultBucketSize       = time.Minute

	// Moderation defaults
	DefaultModerationTimeout     = 10 * time.Second
	DefaultModerationMaxResponse = int64(1 << 20)

	// Redaction defaults
	DefaultRedactionDebounce = 250 * time.Millisecond

	// Audit defaults
	DefaultAuditBackend       = "memory"
	DefaultAuditSQLitePath    = "data/audit.db"
	DefaultAuditBufferSize    = 1000
	DefaultAuditWriteTimeout  = 5 * time.Second
	DefaultAuditRetentionDays = 30
	DefaultAuditPruneSchedule = "0 3 * * *"

	// Telemetry defaults
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "relay"
	DefaultMetricsSubsystem = "gateway"
	DefaultTracingSampler   = "ratio"
	DefaultTracingRatio     = 0.1
	DefaultTracingEndpoint  = "localhost:4317"
	DefaultTracingTimeout   = 10 * time.Second
)

// DefaultCORSAllowedMethods are the methods allowed in CORS preflight responses.
var DefaultCORSAllowedMethods = []string{"POST", "OPTIONS"}

// DefaultCORSAllowedHeaders are the headers allowed in CORS preflight responses.
var DefaultCORSAllowedHeaders = []string{"Content-Type", "X-Request-ID"}

// NewDefaultConfig returns a configuration with every default applied.
func NewDefaultConfig() *Config {
	cfg := newBaseConfig()
	ApplyDefaults(cfg)
	return cfg
}

// newBaseConfig sets the boolean options that default to true. A zero bool
// cannot be told apart from an explicit false, so LoadConfig decodes the
// file on top of this value instead of defaulting afterwards.
func newBaseConfig() *Config {
	cfg := &Config{}
	cfg.Gateway.CORS.Enabled = true
	cfg.RateLimit.Enabled = true
	cfg.Moderation.Enabled = true
	cfg.Audit.Enabled = true
	cfg.Telemetry.Logging.RedactSecrets = true
	cfg.Telemetry.Metrics.Enabled = true
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Gateway.Server, DefaultGatewayListenAddress)
	applyServerDefaults(&cfg.Backend.Server, DefaultBackendListenAddress)

	// Gateway defaults
	if cfg.Gateway.ChatPath == "" {
		cfg.Gateway.ChatPath = DefaultGatewayChatPath
	}
	if cfg.Gateway.BackendTimeout == 0 {
		cfg.Gateway.BackendTimeout = DefaultBackendTimeout
	}
	if cfg.Gateway.MaxBodyBytes == 0 {
		cfg.Gateway.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Gateway.MaxMessages == 0 {
		cfg.Gateway.MaxMessages = DefaultMaxMessages
	}
	if cfg.Gateway.MaxMessageRunes == 0 {
		cfg.Gateway.MaxMessageRunes = DefaultMaxMessageRunes
	}
	if len(cfg.Gateway.CORS.AllowedMethods) == 0 {
		cfg.Gateway.CORS.AllowedMethods = append([]string(nil), DefaultCORSAllowedMethods...)
	}
	if len(cfg.Gateway.CORS.AllowedHeaders) == 0 {
		cfg.Gateway.CORS.AllowedHeaders = append([]string(nil), DefaultCORSAllowedHeaders...)
	}
	if cfg.Gateway.CORS.MaxAge == 0 {
		cfg.Gateway.CORS.MaxAge = DefaultCORSMaxAge
	}

	// Backend defaults
	if cfg.Backend.ChatPath == "" {
		cfg.Backend.ChatPath = DefaultBackendChatPath
	}
	if cfg.Backend.Upstream.Timeout == 0 {
		cfg.Backend.Upstream.Timeout = DefaultUpstreamTimeout
	}

	// Hop defaults
	if cfg.Hop.MaxSkew == 0 {
		cfg.Hop.MaxSkew = DefaultHopMaxSkew
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.CleanupInterval == 0 {
		cfg.Store.CleanupInterval = DefaultStoreCleanup
	}
	if cfg.Store.CleanupSchedule == "" {
		cfg.Store.CleanupSchedule = DefaultStoreCleanupCron
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = DefaultStoreSQLitePath
	}
	if cfg.Store.SQLite.BusyTimeout == 0 {
		cfg.Store.SQLite.BusyTimeout = DefaultStoreBusyTimeout
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Store.Redis.DialTimeout == 0 {
		cfg.Store.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if cfg.Store.Redis.LockTTL == 0 {
		cfg.Store.Redis.LockTTL = DefaultRedisLockTTL
	}
	if cfg.Store.Redis.LockWait == 0 {
		cfg.Store.Redis.LockWait = DefaultRedisLockWait
	}

	// Rate limit defaults
	if cfg.RateLimit.BurstLimit == 0 {
		cfg.RateLimit.BurstLimit = DefaultBurstLimit
	}
	if cfg.RateLimit.BurstWindow == 0 {
		cfg.RateLimit.BurstWindow = DefaultBurstWindow
	}
	if cfg.RateLimit.SustainedLimit == 0 {
		cfg.RateLimit.SustainedLimit = DefaultSustainedLimit
	}
	if cfg.RateLimit.SustainedBuckets == 0 {
		cfg.RateLimit.SustainedBuckets = DefaultSustainedBuckets
	}
	if cfg.RateLimit.BucketSize == 0 {
		cfg.RateLimit.BucketSize = DefaultBucketSize
	}

	// Replay TTL follows the skew bound unless set.
	if cfg.Replay.TTL == 0 {
		cfg.Replay.TTL = 2 * cfg.Hop.MaxSkew
	}

	// Moderation defaults
	if cfg.Moderation.Timeout == 0 {
		cfg.Moderation.Timeout = DefaultModerationTimeout
	}
	if cfg.Moderation.RequestsPerSecond > 0 && cfg.Moderation.Burst == 0 {
		cfg.Moderation.Burst = 1
	}
	if cfg.Moderation.MaxResponseBytes == 0 {
		cfg.Moderation.MaxResponseBytes = DefaultModerationMaxResponse
	}

	// Redaction defaults
	if cfg.Redaction.Debounce == 0 {
		cfg.Redaction.Debounce = DefaultRedactionDebounce
	}

	// Audit defaults
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultAuditBackend
	}
	if cfg.Audit.SQLitePath == "" {
		cfg.Audit.SQLitePath = DefaultAuditSQLitePath
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = DefaultAuditBufferSize
	}
	if cfg.Audit.WriteTimeout == 0 {
		cfg.Audit.WriteTimeout = DefaultAuditWriteTimeout
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = DefaultAuditRetentionDays
	}
	if cfg.Audit.PruneSchedule == "" {
		cfg.Audit.PruneSchedule = DefaultAuditPruneSchedule
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingRatio
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
}

func applyServerDefaults(s *ServerConfig, listen string) {
	if s.ListenAddress == "" {
		s.ListenAddress = listen
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxHeaderBytes == 0 {
		s.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
}
