package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relay/pkg/config"
)

// RequestMetrics tracks request handling on both hops.
//
// Metrics:
//   - relay_gateway_requests_total: requests by hop and outcome
//   - relay_gateway_request_duration_seconds: handling time by hop
//   - relay_gateway_rejections_total: error responses by hop and error code
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rejectionsTotal *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics with the provided registry.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of chat requests handled",
			},
			[]string{"hop", "outcome"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of chat requests in seconds, including streaming",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"hop"},
		),

		rejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rejections_total",
				Help:      "Total number of requests answered with an error body",
			},
			[]string{"hop", "error_code"},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.rejectionsTotal,
	)

	return rm
}

// RecordRequest records a finished request.
func (rm *RequestMetrics) RecordRequest(hop, outcome string, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(hop, outcome).Inc()
	rm.requestDuration.WithLabelValues(hop).Observe(duration.Seconds())
}

// RecordRejection records an error response.
func (rm *RequestMetrics) RecordRejection(hop, errorCode string) {
	rm.rejectionsTotal.WithLabelValues(hop, errorCode).Inc()
}
