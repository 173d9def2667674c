// Package gc implements GC / Cleanup (spec.md C8): periodic deletion of
// terminal job rows and expired rate windows, one statement per category.
// Grounded on the teacher's retention-window discipline absent from the
// job system itself but present throughout internal/data/repos (batched,
// single-statement deletes rather than row-by-row loops); generalized
// here into an explicit dry-run mode since the spec requires one.
package gc

import (
	"context"
	"time"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/platform/logger"
	jobstore "github.com/corwinhq/taskforge/internal/store/jobs"
	"github.com/corwinhq/taskforge/internal/store/ratewindows"
)

type Options struct {
	CompletedMaxAge time.Duration
	FailedMaxAge    time.Duration
	WindowMaxAge    time.Duration
	BatchSize       int
	DryRun          bool
}

type Result struct {
	CompletedDeleted int64
	FailedDeleted    int64
	WindowsDeleted   int64
}

type GC struct {
	jobs    jobstore.Store
	windows ratewindows.Store
	log     *logger.Logger
}

func New(jobs jobstore.Store, windows ratewindows.Store, baseLog *logger.Logger) *GC {
	return &GC{jobs: jobs, windows: windows, log: baseLog.With("component", "GC")}
}

// Cleanup runs the three deletion categories of §4.8. Only completed and
// failed rows are ever eligible; pending and processing rows are never
// touched by GC, regardless of age.
func (g *GC) Cleanup(ctx context.Context, opts Options) (Result, error) {
	now := time.Now().UTC()
	var res Result

	completedCutoff := now.Add(-opts.CompletedMaxAge)
	completed, err := g.jobs.DeleteTerminalOlderThan(ctx, domain.JobStatusCompleted, completedCutoff, opts.BatchSize, opts.DryRun)
	if err != nil {
		return res, err
	}
	res.CompletedDeleted = completed

	failedCutoff := now.Add(-opts.FailedMaxAge)
	failed, err := g.jobs.DeleteTerminalOlderThan(ctx, domain.JobStatusFailed, failedCutoff, opts.BatchSize, opts.DryRun)
	if err != nil {
		return res, err
	}
	res.FailedDeleted = failed

	windowCutoff := now.Add(-opts.WindowMaxAge)
	if opts.DryRun {
		// The rate-window store has no count-only path, so a dry run
		// leaves rate windows untouched and reports WindowsDeleted as 0
		// rather than a would-be-deleted count; dry-run counts cover
		// the two job categories only.
		g.log.Info("dry-run: skipping rate window count", "cutoff", windowCutoff)
	} else {
		deleted, err := g.windows.DeleteOlderThan(ctx, windowCutoff)
		if err != nil {
			return res, err
		}
		res.WindowsDeleted = deleted
	}

	g.log.Info("gc cleanup complete",
		"dry_run", opts.DryRun,
		"completed_deleted", res.CompletedDeleted,
		"failed_deleted", res.FailedDeleted,
		"windows_deleted", res.WindowsDeleted,
	)
	return res, nil
}
