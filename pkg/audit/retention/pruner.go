package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"mercator-hq/relay/pkg/audit"
)

// Pruner deletes audit events older than the retention period.
type Pruner struct {
	storage       audit.Storage
	retentionDays int
	clock         clock.Clock
	logger        *slog.Logger
}

// NewPruner creates a pruner. retentionDays <= 0 keeps events forever.
// A nil clock uses the wall clock.
func NewPruner(storage audit.Storage, retentionDays int, clk clock.Clock) *Pruner {
	if clk == nil {
		clk = clock.New()
	}
	return &Pruner{
		storage:       storage,
		retentionDays: retentionDays,
		clock:         clk,
		logger:        slog.Default().With("component", "audit.retention"),
	}
}

// Prune deletes expired events and returns how many were removed.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.retentionDays <= 0 {
		return 0, nil
	}

	cutoff := p.clock.Now().Add(-time.Duration(p.retentionDays) * 24 * time.Hour)
	deleted, err := p.storage.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune by age failed: %w", err)
	}

	if deleted > 0 {
		p.logger.Info("pruned audit events",
			"deleted_count", deleted,
			"retention_days", p.retentionDays,
			"cutoff", cutoff,
		)
	}
	return deleted, nil
}
