// Package replay suppresses replayed hop requests by consuming each nonce
// exactly once within its time-to-live.
package replay

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"mercator-hq/relay/pkg/store"
)

// Outcome is the result of a nonce check.
type Outcome string

const (
	// Accepted means the nonce was unseen and has now been consumed.
	Accepted Outcome = "accepted"

	// Rejected means the nonce was already consumed and has not expired.
	Rejected Outcome = "rejected"

	// Skipped means the store could not be consulted. The nonce was
	// neither approved nor rejected; the caller applies its own policy.
	Skipped Outcome = "skipped"
)

// Rejection reasons.
const (
	ReasonReplayDetected = "replay-detected"
	ReasonMissingNonce   = "missing-nonce"
	ReasonStoreError     = "store-unavailable"
)

// Result describes a single CheckAndConsume call.
type Result struct {
	Outcome Outcome

	// Reason is set for Rejected and Skipped outcomes.
	Reason string

	// Err is the store error behind a Skipped outcome.
	Err error
}

// Guard records consumed nonces in a store.
type Guard struct {
	store  store.Store
	clock  clock.Clock
	prefix string
	logger *slog.Logger
}

// NewGuard creates a guard backed by s. A nil clock uses the wall clock.
func NewGuard(s store.Store, clk clock.Clock) *Guard {
	if clk == nil {
		clk = clock.New()
	}
	return &Guard{
		store:  s,
		clock:  clk,
		prefix: "nonce:",
		logger: slog.Default().With("component", "replay.guard"),
	}
}

// CheckAndConsume atomically checks that nonce is unseen and records it for
// ttl. Concurrent calls with the same nonce produce exactly one Accepted.
func (g *Guard) CheckAndConsume(ctx context.Context, nonce string, ttl time.Duration) Result {
	if nonce == "" {
		return Result{Outcome: Rejected, Reason: ReasonMissingNonce}
	}

	expiresAt := g.clock.Now().Add(ttl).UnixMilli()
	ok, err := g.store.PutIfAbsent(ctx, g.prefix+nonce, []byte(strconv.FormatInt(expiresAt, 10)), ttl)
	if err != nil {
		g.logger.WarnContext(ctx, "replay store unavailable, nonce not checked", "error", err)
		return Result{Outcome: Skipped, Reason: ReasonStoreError, Err: err}
	}
	if !ok {
		return Result{Outcome: Rejected, Reason: ReasonReplayDetected}
	}
	return Result{Outcome: Accepted}
}
