package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relay/pkg/config"
)

// StreamMetrics tracks relayed response streams.
type StreamMetrics struct {
	active       prometheus.Gauge
	outcomes     *prometheus.CounterVec
	deltas       prometheus.Counter
	bytes        prometheus.Counter
	auditDropped prometheus.Counter
}

// NewStreamMetrics creates and registers stream metrics with the provided registry.
func NewStreamMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StreamMetrics {
	sm := &StreamMetrics{
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "streams_active",
				Help:      "Number of streams currently being relayed",
			},
		),

		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "streams_total",
				Help:      "Finished streams, by detected framing mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		deltas: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "stream_deltas_total",
				Help:      "Text deltas delivered to clients",
			},
		),

		bytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "stream_upstream_bytes_total",
				Help:      "Bytes read from upstream streams",
			},
		),

		auditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_events_dropped_total",
				Help:      "Audit events dropped because the recorder buffer was full",
			},
		),
	}

	registry.MustRegister(
		sm.active,
		sm.outcomes,
		sm.deltas,
		sm.bytes,
		sm.auditDropped,
	)

	return sm
}

// RecordStream records one finished stream.
func (sm *StreamMetrics) RecordStream(mode, outcome string, deltas int, bytes int64) {
	sm.outcomes.WithLabelValues(mode, outcome).Inc()
	if deltas > 0 {
		sm.deltas.Add(float64(deltas))
	}
	if bytes > 0 {
		sm.bytes.Add(float64(bytes))
	}
}
