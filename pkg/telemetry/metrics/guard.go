package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relay/pkg/config"
)

// GuardMetrics tracks the admission checks a request passes through.
type GuardMetrics struct {
	rateLimited        *prometheus.CounterVec
	replayChecks       *prometheus.CounterVec
	verifyFailures     *prometheus.CounterVec
	moderationVerdicts *prometheus.CounterVec
	moderationDuration prometheus.Histogram
	redactions         *prometheus.CounterVec
}

// NewGuardMetrics creates and registers guard metrics with the provided registry.
func NewGuardMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *GuardMetrics {
	gm := &GuardMetrics{
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter, by tier",
			},
			[]string{"tier"},
		),

		replayChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "replay_checks_total",
				Help:      "Replay guard checks, by outcome",
			},
			[]string{"outcome"},
		),

		verifyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "hop_verify_failures_total",
				Help:      "Inbound hop signatures rejected, by reason",
			},
			[]string{"reason"},
		),

		moderationVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "moderation_verdicts_total",
				Help:      "Moderation results, by verdict",
			},
			[]string{"result"},
		),

		moderationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "moderation_duration_seconds",
				Help:      "Duration of classifier calls in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),

		redactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "redaction_total",
				Help:      "Requests by redaction filter state",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		gm.rateLimited,
		gm.replayChecks,
		gm.verifyFailures,
		gm.moderationVerdicts,
		gm.moderationDuration,
		gm.redactions,
	)

	return gm
}
