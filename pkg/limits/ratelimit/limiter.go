package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"

	"mercator-hq/relay/pkg/store"
)

// Limiter enforces the burst and sustained tiers for any number of
// identities, keeping state in a shared store.
type Limiter struct {
	store  store.Store
	config Config
	clock  clock.Clock
	prefix string
	logger *slog.Logger
}

// NewLimiter creates a limiter. A nil clock uses the wall clock.
func NewLimiter(s store.Store, cfg Config, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	return &Limiter{
		store:  s,
		config: cfg,
		clock:  clk,
		prefix: "rate:",
		logger: slog.Default().With("component", "ratelimit"),
	}
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.config
}

// Allow checks and, if admitted, records one request for identity.
// The whole read-increment-compare cycle runs atomically per identity.
func (l *Limiter) Allow(ctx context.Context, identity string) (Decision, error) {
	if identity == "" {
		identity = "anonymous"
	}

	ttl := l.config.Window()
	if l.config.BurstWindow > ttl {
		ttl = l.config.BurstWindow
	}

	var decision Decision
	err := l.store.Update(ctx, l.prefix+identity, ttl, func(current []byte) ([]byte, error) {
		var state windowState
		if len(current) > 0 {
			if err := json.Unmarshal(current, &state); err != nil {
				l.logger.WarnContext(ctx, "discarding unreadable rate state",
					"identity", identity,
					"error", err,
				)
				state = windowState{}
			}
		}

		decision = state.admit(l.config, l.clock.Now())
		return json.Marshal(&state)
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit state update failed: %w", err)
	}

	if !decision.Allowed {
		l.logger.DebugContext(ctx, "request rate limited",
			"identity", identity,
			"tier", decision.Tier,
			"retry_after", decision.RetryAfter,
		)
	}
	return decision, nil
}
