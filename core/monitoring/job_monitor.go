package monitoring

import (
	"context"
	"time"

	"rh-orchestrator/core/repository"
)

// DefaultPruneInterval is how often finished jobs are checked for expiry.
const DefaultPruneInterval = time.Minute

// JobMonitor drops finished jobs from the registry once they are older than
// the retention window.
type JobMonitor struct {
	registry  *repository.JobRegistry
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewJobMonitor creates a new job monitor
func NewJobMonitor(registry *repository.JobRegistry, retention, interval time.Duration) *JobMonitor {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &JobMonitor{
		registry:  registry,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Start runs the pruning loop until ctx is done. A retention of zero or
// less keeps jobs forever and returns immediately.
func (jm *JobMonitor) Start(ctx context.Context) {
	if jm.retention <= 0 {
		return
	}
	ticker := time.NewTicker(jm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jm.prune()
		}
	}
}

func (jm *JobMonitor) prune() int {
	n := jm.registry.PruneJobs(jm.now().Add(-jm.retention))
	if n > 0 {
		logger.Info("pruned finished jobs", "count", n, "retention", jm.retention.String())
	}
	return n
}
