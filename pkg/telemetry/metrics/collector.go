package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relay/pkg/config"
)

// Collector owns the relay metrics and the registry they are registered in.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	requestMetrics *RequestMetrics
	guardMetrics   *GuardMetrics
	streamMetrics  *StreamMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector. If registry is nil a fresh registry is
// created, so several collectors can coexist in one process.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "relay"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "gateway"
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		// Streams run long; cover 50ms rejections up to a 2 minute stream.
		cfg.RequestDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(64),
	}

	c.requestMetrics = NewRequestMetrics(cfg, registry)
	c.guardMetrics = NewGuardMetrics(cfg, registry)
	c.streamMetrics = NewStreamMetrics(cfg, registry)

	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordRequest records a finished request.
//
// Parameters:
//   - hop: "gateway" or "backend"
//   - outcome: "success", "rejected" or "error"
//   - duration: total handling time including the stream
func (c *Collector) RecordRequest(hop, outcome string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.requestMetrics.RecordRequest(hop, outcome, duration)
}

// RecordRejection records a request answered with an error body.
func (c *Collector) RecordRejection(hop, errorCode string) {
	if !c.enabled() {
		return
	}
	if !c.cardinalityLimiter.Allow(errorCode) {
		errorCode = "other"
	}
	c.requestMetrics.RecordRejection(hop, errorCode)
}

// RecordRateLimited records a rate limiter rejection for tier.
func (c *Collector) RecordRateLimited(tier string) {
	if !c.enabled() {
		return
	}
	c.guardMetrics.rateLimited.WithLabelValues(tier).Inc()
}

// RecordReplayCheck records a replay guard outcome ("accepted", "rejected", "skipped").
func (c *Collector) RecordReplayCheck(outcome string) {
	if !c.enabled() {
		return
	}
	c.guardMetrics.replayChecks.WithLabelValues(outcome).Inc()
}

// RecordVerifyFailure records a rejected hop signature.
func (c *Collector) RecordVerifyFailure(reason string) {
	if !c.enabled() {
		return
	}
	c.guardMetrics.verifyFailures.WithLabelValues(reason).Inc()
}

// RecordModeration records a moderation result ("safe", "unsafe",
// "unparseable", "unavailable") and how long the classifier took.
func (c *Collector) RecordModeration(result string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.guardMetrics.moderationVerdicts.WithLabelValues(result).Inc()
	c.guardMetrics.moderationDuration.Observe(duration.Seconds())
}

// RecordRedaction records whether the redaction filter was active for a request.
func (c *Collector) RecordRedaction(active bool) {
	if !c.enabled() {
		return
	}
	state := "inactive"
	if active {
		state = "active"
	}
	c.guardMetrics.redactions.WithLabelValues(state).Inc()
}

// StreamStarted increments the active stream gauge.
func (c *Collector) StreamStarted() {
	if !c.enabled() {
		return
	}
	c.streamMetrics.active.Inc()
}

// StreamFinished decrements the active stream gauge and records the result.
func (c *Collector) StreamFinished(mode, outcome string, deltas int, bytes int64) {
	if !c.enabled() {
		return
	}
	c.streamMetrics.active.Dec()
	c.streamMetrics.RecordStream(mode, outcome, deltas, bytes)
}

// RecordAuditDropped records audit events dropped because the buffer was full.
func (c *Collector) RecordAuditDropped() {
	if !c.enabled() {
		return
	}
	c.streamMetrics.auditDropped.Inc()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet may be used. Known label sets are always
// allowed; new ones only while under the limit.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[labelSet]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
