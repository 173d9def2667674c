// Package reaper implements the Stale-Lease Reaper (spec.md C5): Reap()
// returns processing jobs whose lease has expired to pending with
// next_retry_at=now, compensating for workers that crashed between the
// dispatcher's processing transition and its terminal write. Grounded on
// the bulk, single-statement-update discipline already used by the job
// store's other transitions (internal/data/repos/jobs/job_run.go).
package reaper

import (
	"context"
	"time"

	"github.com/corwinhq/taskforge/internal/platform/logger"
	jobstore "github.com/corwinhq/taskforge/internal/store/jobs"
)

type Reaper struct {
	store        jobstore.Store
	leaseTimeout time.Duration
	log          *logger.Logger
}

func New(store jobstore.Store, leaseTimeout time.Duration, baseLog *logger.Logger) *Reaper {
	return &Reaper{
		store:        store,
		leaseTimeout: leaseTimeout,
		log:          baseLog.With("component", "Reaper"),
	}
}

// Reap is safe to call concurrently: it is a single bulk update, and two
// concurrent calls reset each stale row at most once between them.
// attempts is deliberately NOT rolled back here — a crash costs one
// attempt, by design, to avoid livelock against a permanently broken
// handler.
func (r *Reaper) Reap(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-r.leaseTimeout)
	n, err := r.store.ResetStale(ctx, cutoff)
	if err != nil {
		r.log.Warn("reap failed", "error", err)
		return 0, err
	}
	if n > 0 {
		r.log.Info("reaped stale leases", "count", n)
	}
	return n, nil
}
