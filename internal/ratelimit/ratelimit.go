// Package ratelimit implements the Rate Limiter (spec.md C2): a fixed,
// hour-bucketed admission check per principal+job_type. The race the spec
// explicitly tolerates — two concurrent admitters both reading a count
// just under the ceiling and both incrementing — is preserved here rather
// than closed with a serializable transaction; see DESIGN.md for why this
// is a deliberate soft ceiling, not a bug.
package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/engineerr"
	"github.com/corwinhq/taskforge/internal/store/ratewindows"
)

type Limiter struct {
	store  ratewindows.Store
	max    int
	window time.Duration
}

func New(store ratewindows.Store, max int, window time.Duration) *Limiter {
	return &Limiter{store: store, max: max, window: window}
}

// Check is §4.2 steps 1-3: it returns a RATE_LIMITED engineerr with
// RetryAfter set to the seconds remaining in the window if the
// principal's count for the current window is already at or above max,
// and nil otherwise. It does not mutate the counter, so a caller can
// check admission before performing the side effect (e.g. inserting a
// job row) that the admission is meant to gate.
func (l *Limiter) Check(ctx context.Context, principalID uuid.UUID, jobType string, now time.Time) error {
	windowStart := domain.FloorToHour(now)

	count, err := l.store.CountInWindow(ctx, principalID, jobType, windowStart)
	if err != nil {
		return err
	}
	if count >= l.max {
		remaining := windowStart.Add(l.window).Sub(now)
		retryAfter := int((remaining + time.Second - 1) / time.Second)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return engineerr.RateLimited(retryAfter)
	}
	return nil
}

// Admit is §4.2 step 4/step 5's counter increment, performed separately
// from Check so a caller can defer it until after the admitted work is
// actually committed (spec §4.6 step 5 increments only once the job row
// exists). Admit does not re-check the ceiling; it trusts a prior Check
// call, which is the same tolerated soft-ceiling race §4.2 describes.
func (l *Limiter) Admit(ctx context.Context, principalID uuid.UUID, jobType string, now time.Time) error {
	windowStart := domain.FloorToHour(now)
	_, err := l.store.Increment(ctx, principalID, jobType, windowStart)
	return err
}

// CheckAndMaybeAdmit composes Check then Admit for callers that have no
// reason to separate the two steps.
func (l *Limiter) CheckAndMaybeAdmit(ctx context.Context, principalID uuid.UUID, jobType string, now time.Time) error {
	if err := l.Check(ctx, principalID, jobType, now); err != nil {
		return err
	}
	return l.Admit(ctx, principalID, jobType, now)
}
