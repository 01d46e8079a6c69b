// Package worker holds background maintenance loops.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// JobRegistry drops terminal jobs from the in-process registry.
// Implemented by batch.Runner.
type JobRegistry interface {
	Reap(cutoff time.Time) int
}

// HistoryPruner trims the persisted job history to the newest keep jobs.
// Implemented by SQLiteStore.
type HistoryPruner interface {
	PruneJobs(ctx context.Context, keep int) (int64, error)
}

// ReapCoordinator bounds the memory held by finished jobs and the size of
// the job history table.
type ReapCoordinator struct {
	registry  JobRegistry
	pruner    HistoryPruner
	interval  time.Duration
	retention time.Duration
	keep      int

	// Now is the coordinator clock. Defaults to time.Now.
	Now func() time.Time
}

// NewReapCoordinator creates a reap coordinator. pruner may be nil, and a
// keep of zero disables history pruning.
func NewReapCoordinator(registry JobRegistry, pruner HistoryPruner, interval, retention time.Duration, keep int) *ReapCoordinator {
	return &ReapCoordinator{
		registry:  registry,
		pruner:    pruner,
		interval:  interval,
		retention: retention,
		keep:      keep,
		Now:       time.Now,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
// The first reap happens after one interval.
func (c *ReapCoordinator) Run(ctx context.Context) {
	slog.Info("reap coordinator started",
		"component", "worker",
		"worker", "reap-coordinator",
		"interval", c.interval.String(),
		"retention", c.retention.String(),
		"history_limit", c.keep,
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reap coordinator stopped",
				"component", "worker",
				"worker", "reap-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.ReapOnce(ctx)
		}
	}
}

// ReapOnce runs one reap cycle and returns the number of registry jobs
// and history rows removed.
func (c *ReapCoordinator) ReapOnce(ctx context.Context) (int, int64) {
	reaped := c.registry.Reap(c.Now().Add(-c.retention))

	var pruned int64
	if c.pruner != nil && c.keep > 0 {
		n, err := c.pruner.PruneJobs(ctx, c.keep)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("job history prune failed",
					"component", "worker",
					"worker", "reap-coordinator",
					"error", err,
				)
			}
		} else {
			pruned = n
		}
	}

	if reaped > 0 || pruned > 0 {
		slog.Info("reap cycle completed",
			"component", "worker",
			"worker", "reap-coordinator",
			"jobs_reaped", reaped,
			"history_pruned", pruned,
		)
	}
	return reaped, pruned
}
