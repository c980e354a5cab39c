// Package metrics provides Prometheus metrics for the relay gateway and backend.
//
// # Metrics Categories
//
//   - Request Metrics: request count and duration per hop, rejections by error code
//   - Guard Metrics: rate limit rejections, replay checks, moderation verdicts, redaction
//   - Stream Metrics: active streams, stream outcomes, deltas and bytes relayed
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordRequest("gateway", "success", time.Since(start))
//	collector.RecordRateLimited("burst")
//	http.Handle("/metrics", collector.Handler())
//
// Every Record method is safe on a nil *Collector, so components can be
// built without metrics in tests.
//
// # Cardinality
//
// Label values come from small closed sets (hop names, error codes, tiers,
// stream modes). Error codes are additionally passed through a
// CardinalityLimiter and collapse to "other" past the limit.
package metrics
