package stakingd

import (
	"context"
	"log/slog"
	"time"

	"stakeledger/observability"
)

// Pruner removes completed transaction markers older than retention seconds.
type Pruner interface {
	PruneTransactions(retention uint64) (int, error)
}

// JournalPruner drops journal entries recorded before cutoff.
type JournalPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor runs housekeeping on a fixed interval.
type Janitor struct {
	pruner    Pruner
	journal   JournalPruner
	limiter   *RateLimiter
	interval  time.Duration
	retention time.Duration
	metrics   *observability.StakingdMetrics
	logger    *slog.Logger
}

// NewJanitor constructs the housekeeping loop.
func NewJanitor(pruner Pruner, limiter *RateLimiter, cfg HousekeepingConfig, metrics *observability.StakingdMetrics, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		pruner:    pruner,
		limiter:   limiter,
		interval:  interval,
		retention: cfg.Retention.Duration,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Tick(ctx)
		}
	}
}

// WithJournal also prunes journal entries past the retention window.
func (j *Janitor) WithJournal(journal JournalPruner) *Janitor {
	j.journal = journal
	return j
}

// Tick performs a single housekeeping pass.
func (j *Janitor) Tick(ctx context.Context) {
	if j.pruner != nil {
		removed, err := j.pruner.PruneTransactions(uint64(j.retention / time.Second))
		if err != nil {
			j.logger.Warn("prune staking transactions", slog.Any("error", err))
		}
		j.metrics.RecordPruned(removed)
		if removed > 0 {
			j.logger.Info("housekeeping pruned transactions", slog.Int("count", removed))
		}
	}
	if j.journal != nil {
		removed, err := j.journal.Prune(ctx, time.Now().Add(-j.retention))
		if err != nil {
			j.logger.Warn("prune staking journal", slog.Any("error", err))
		} else if removed > 0 {
			j.logger.Info("housekeeping pruned journal entries", slog.Int64("count", removed))
		}
	}
	if j.limiter != nil {
		j.limiter.Sweep()
	}
}
