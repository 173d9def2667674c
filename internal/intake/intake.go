// Package intake implements the Intake API (spec.md C6): the only entry
// points the outside world (HTTP handlers) use to enqueue work, poll
// status, retry failed jobs, and list a principal's jobs. Grounded on the
// teacher's internal/services/job_service.go — same enqueue/status/retry
// shape, same "not_found, not forbidden" anti-existence-disclosure
// behavior on principal mismatch, generalized from the teacher's
// course-generation domain to an arbitrary registered job type.
package intake

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/corwinhq/taskforge/internal/dispatcher"
	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/engineerr"
	"github.com/corwinhq/taskforge/internal/platform/logger"
	"github.com/corwinhq/taskforge/internal/ratelimit"
	"github.com/corwinhq/taskforge/internal/reaper"
	"github.com/corwinhq/taskforge/internal/registry"
	jobstore "github.com/corwinhq/taskforge/internal/store/jobs"
)

// Notifier is the narrow slice of the Notifier component (C10) Intake
// needs, mirroring dispatcher.Notifier's local-declaration pattern so
// neither package depends on the concrete notifier implementation.
type Notifier interface {
	JobEnqueued(ctx context.Context, job *domain.Job)
}

type EnqueueRequest struct {
	Type     string         `json:"type" binding:"required"`
	Payload  datatypes.JSON `json:"payload" binding:"required"`
	Priority int            `json:"priority"`
}

type ListFilter struct {
	Type   string
	Status domain.JobStatus
	Limit  int
}

type Intake struct {
	store      jobstore.Store
	registry   *registry.Registry
	limiter    *ratelimit.Limiter
	dispatcher *dispatcher.Dispatcher
	reaper     *reaper.Reaper
	notify     Notifier
	log        *logger.Logger

	defaultMaxAttempts int
	maxListLimit       int
	defaultListLimit   int
}

func New(
	store jobstore.Store,
	reg *registry.Registry,
	limiter *ratelimit.Limiter,
	disp *dispatcher.Dispatcher,
	reap *reaper.Reaper,
	notify Notifier,
	baseLog *logger.Logger,
	defaultMaxAttempts, maxListLimit, defaultListLimit int,
) *Intake {
	return &Intake{
		store:              store,
		registry:           reg,
		limiter:            limiter,
		dispatcher:         disp,
		reaper:             reap,
		notify:             notify,
		log:                baseLog.With("component", "Intake"),
		defaultMaxAttempts: defaultMaxAttempts,
		maxListLimit:       maxListLimit,
		defaultListLimit:   defaultListLimit,
	}
}

// Enqueue is spec.md §4.6's enqueue(principal, type, payload, priority?).
func (i *Intake) Enqueue(ctx context.Context, principalID uuid.UUID, req EnqueueRequest) (*domain.Job, error) {
	if !i.registry.KnownType(req.Type) {
		return nil, engineerr.New(engineerr.CodeValidationError, "unknown job type: "+req.Type)
	}
	if !isJSONObject(req.Payload) {
		return nil, engineerr.New(engineerr.CodeValidationError, "payload must be a JSON object")
	}

	now := time.Now().UTC()
	if err := i.limiter.Check(ctx, principalID, req.Type, now); err != nil {
		return nil, err
	}

	entry, _ := i.registry.Lookup(req.Type)
	maxAttempts := i.defaultMaxAttempts
	if entry.MaxAttempts > 0 {
		maxAttempts = entry.MaxAttempts
	}

	job := &domain.Job{
		ID:          uuid.New(),
		Type:        req.Type,
		Payload:     req.Payload,
		Status:      domain.JobStatusPending,
		Priority:    req.Priority,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		PrincipalID: principalID,
	}
	if err := i.store.Create(ctx, job); err != nil {
		return nil, err
	}

	// §4.6 step 5: increment the rate-limit window only once the job row
	// actually exists, so a Create failure after admission never leaves a
	// counted admission with no job to show for it.
	if err := i.limiter.Admit(ctx, principalID, req.Type, now); err != nil {
		i.log.Warn("failed to record rate-limit admission", "error", err, "job_id", job.ID.String())
	}

	if i.notify != nil {
		i.notify.JobEnqueued(ctx, job)
	}
	return job, nil
}

// Status is spec.md §4.6's status(principal, id). It opportunistically
// reaps stale leases before reading, then spawns dispatch in the
// background if the job is eligible, returning the current snapshot
// without awaiting completion.
func (i *Intake) Status(ctx context.Context, principalID, jobID uuid.UUID) (*domain.Job, error) {
	if i.reaper != nil {
		if _, err := i.reaper.Reap(ctx); err != nil {
			i.log.Warn("opportunistic reap failed", "error", err)
		}
	}

	job, err := i.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	// A missing job and a job owned by a different principal return the
	// identical not-found error, so a caller can never distinguish
	// "doesn't exist" from "exists but isn't yours".
	if job == nil || job.PrincipalID != principalID {
		return nil, engineerr.ErrNotFound
	}

	if job.CanDispatch(time.Now().UTC()) {
		detached := context.WithoutCancel(ctx)
		go i.dispatcher.ProcessJob(detached, job.ID)
	}

	return job, nil
}

// Retry is spec.md §4.6's retry(principal, id). Only a failed job owned
// by the caller may be retried; retrying enqueues a brand-new job sharing
// type, payload, and priority rather than resetting the original row.
func (i *Intake) Retry(ctx context.Context, principalID, jobID uuid.UUID) (*domain.Job, error) {
	original, err := i.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if original == nil || original.PrincipalID != principalID {
		return nil, engineerr.ErrNotFound
	}
	if original.Status != domain.JobStatusFailed {
		return nil, engineerr.New(engineerr.CodeInvalidState, "only failed jobs may be retried")
	}

	now := time.Now().UTC()
	if err := i.limiter.Check(ctx, principalID, original.Type, now); err != nil {
		return nil, err
	}

	entry, _ := i.registry.Lookup(original.Type)
	maxAttempts := i.defaultMaxAttempts
	if entry.MaxAttempts > 0 {
		maxAttempts = entry.MaxAttempts
	}

	fresh := &domain.Job{
		ID:          uuid.New(),
		Type:        original.Type,
		Payload:     original.Payload,
		Status:      domain.JobStatusPending,
		Priority:    original.Priority,
		MaxAttempts: maxAttempts,
		PrincipalID: principalID,
	}
	if err := i.store.Create(ctx, fresh); err != nil {
		return nil, err
	}

	if err := i.limiter.Admit(ctx, principalID, original.Type, now); err != nil {
		i.log.Warn("failed to record rate-limit admission", "error", err, "job_id", fresh.ID.String())
	}

	if i.notify != nil {
		i.notify.JobEnqueued(ctx, fresh)
	}
	return fresh, nil
}

// List is spec.md §4.1/§4.6's list(principal, {type?, status?, limit?}),
// clamping the caller's requested limit into [1, maxListLimit].
func (i *Intake) List(ctx context.Context, principalID uuid.UUID, filter ListFilter) ([]*domain.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = i.defaultListLimit
	}
	if limit > i.maxListLimit {
		limit = i.maxListLimit
	}
	return i.store.List(ctx, principalID, jobstore.ListFilter{
		Type:   filter.Type,
		Status: filter.Status,
		Limit:  limit,
	})
}

// isJSONObject reports whether raw's first non-whitespace byte opens a
// JSON object, matching §4.6 step 2's "payload is a JSON object" check
// without paying for a full unmarshal.
func isJSONObject(raw datatypes.JSON) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
