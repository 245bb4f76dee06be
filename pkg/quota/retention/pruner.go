package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"codecoach-hq/saturn/pkg/quota/audit"
	"codecoach-hq/saturn/pkg/quota/storage"
)

// Config contains retention settings.
type Config struct {
	// Schedule is a cron expression for automatic pruning.
	// Empty disables the scheduler.
	Schedule string

	// IdleStatePeriod is how long an untouched usage state is kept.
	// Default: 90 days
	IdleStatePeriod time.Duration

	// EventRetention is how long audit journal events are kept.
	// Default: 400 days, covering a full billing year
	EventRetention time.Duration
}

// Pruner deletes idle usage states and expired audit events.
type Pruner struct {
	store   storage.Store
	journal *audit.Journal
	config  Config
	logger  *slog.Logger
}

// NewPruner creates a pruner. journal may be nil when the audit journal is
// disabled.
func NewPruner(store storage.Store, journal *audit.Journal, config Config) (*Pruner, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.IdleStatePeriod == 0 {
		config.IdleStatePeriod = 90 * 24 * time.Hour
	}
	if config.EventRetention == 0 {
		config.EventRetention = 400 * 24 * time.Hour
	}
	if config.IdleStatePeriod < 0 || config.EventRetention < 0 {
		return nil, fmt.Errorf("retention periods must be positive")
	}

	return &Pruner{
		store:   store,
		journal: journal,
		config:  config,
		logger:  slog.Default().With("component", "retention.pruner"),
	}, nil
}

// Run performs one pruning pass. Errors from one target do not stop the
// other; the first error is returned after both ran.
func (p *Pruner) Run(ctx context.Context) error {
	now := time.Now()
	var firstErr error

	states, err := p.store.Cleanup(ctx, now.Add(-p.config.IdleStatePeriod))
	if err != nil {
		p.logger.Error("usage state pruning failed", "error", err)
		firstErr = fmt.Errorf("pruning usage states: %w", err)
	} else if states > 0 {
		p.logger.Info("pruned idle usage states", "count", states)
	}

	if p.journal != nil {
		events, err := p.journal.Prune(ctx, now.Add(-p.config.EventRetention))
		if err != nil {
			p.logger.Error("audit event pruning failed", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("pruning audit events: %w", err)
			}
		} else if events > 0 {
			p.logger.Info("pruned expired audit events", "count", events)
		}
	}

	return firstErr
}
