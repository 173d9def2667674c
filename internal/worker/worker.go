// Package worker is the optional fixed worker-pool dispatch path spec.md
// §5 permits in place of the default HTTP-triggered spawn: "There is no
// dedicated worker pool... This MAY be replaced by a fixed worker pool
// consuming claim_next_pending — the state machine is identical."
// Grounded directly on the teacher's internal/jobs/worker.go ticker loop,
// generalized from a single-type course-generation poll into a poll over
// every pending job regardless of type (a job whose type has no
// registered handler is failed terminally by RunClaimed), and from
// job-panics-crash-the-loop into the dispatcher's own recover boundary
// (RunClaimed already wraps handler invocation in a recover).
package worker

import (
	"context"
	"time"

	"github.com/corwinhq/taskforge/internal/dispatcher"
	"github.com/corwinhq/taskforge/internal/platform/logger"
	"github.com/corwinhq/taskforge/internal/reaper"
	jobstore "github.com/corwinhq/taskforge/internal/store/jobs"
)

type Pool struct {
	store        jobstore.Store
	dispatcher   *dispatcher.Dispatcher
	reaper       *reaper.Reaper
	log          *logger.Logger
	pollInterval time.Duration
}

func NewPool(store jobstore.Store, disp *dispatcher.Dispatcher, reap *reaper.Reaper, baseLog *logger.Logger, pollInterval time.Duration) *Pool {
	return &Pool{
		store:        store,
		dispatcher:   disp,
		reaper:       reap,
		log:          baseLog.With("component", "WorkerPool"),
		pollInterval: pollInterval,
	}
}

// Start runs the poll loop until ctx is cancelled. Each tick: reap stale
// leases, then claim and run at most one job. A busier engine would want
// several goroutines each running this loop (SKIP LOCKED makes that safe
// without any additional coordination), which is exactly why the claim
// step is a single store call rather than holding a lock across ticks.
func (p *Pool) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

func (p *Pool) tick(ctx context.Context) {
	if p.reaper != nil {
		if _, err := p.reaper.Reap(ctx); err != nil {
			p.log.Warn("reap failed", "error", err)
		}
	}

	job, err := p.store.ClaimAnyPending(ctx)
	if err != nil {
		p.log.Warn("claim failed", "error", err)
		return
	}
	if job == nil {
		return
	}
	p.dispatcher.RunClaimed(ctx, job)
}
