// Package dispatcher implements the Dispatcher & State Machine (spec.md C4):
// Process(job) moves a single job through
// pending -> processing -> completed|failed|pending(retry) by invoking the
// registered handler and recording the result. Grounded on the teacher's
// internal/jobs/worker.go for the panic-recovery discipline around handler
// invocation, generalized from a fixed ticker loop into ProcessJob (claim,
// then run) for an HTTP-triggered spawn and RunClaimed (run a job already
// claimed) for a worker pool, both sharing one state machine.
package dispatcher

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/platform/logger"
	"github.com/corwinhq/taskforge/internal/registry"
	jobstore "github.com/corwinhq/taskforge/internal/store/jobs"
)

var tracer = otel.Tracer("github.com/corwinhq/taskforge/internal/dispatcher")

// Notifier is the narrow slice of the Notifier component (C10) the
// dispatcher needs; it is satisfied by internal/notifier.Notifier. Declared
// locally, teacher-style, so this package does not import notifier and
// notifier does not need to import dispatcher.
type Notifier interface {
	JobStarted(ctx context.Context, job *domain.Job)
	JobCompleted(ctx context.Context, job *domain.Job)
	JobFailed(ctx context.Context, job *domain.Job, retrying bool)
}

const defaultMaxAttempts = 3

type Dispatcher struct {
	store              jobstore.Store
	registry           *registry.Registry
	notify             Notifier
	log                *logger.Logger
	defaultMaxAttempts int
	backoffBase        time.Duration
	maxBackoff         time.Duration
}

func New(store jobstore.Store, reg *registry.Registry, notify Notifier, baseLog *logger.Logger, backoffBase, maxBackoff time.Duration) *Dispatcher {
	return &Dispatcher{
		store:              store,
		registry:           reg,
		notify:             notify,
		log:                baseLog.With("component", "Dispatcher"),
		defaultMaxAttempts: defaultMaxAttempts,
		backoffBase:        backoffBase,
		maxBackoff:         maxBackoff,
	}
}

// ProcessJob runs the full process(job) sequence of spec.md §4.4 for one
// job id. Intake's status path spawns it as its own goroutine; the
// worker pool claims jobs itself and calls RunClaimed instead. ProcessJob
// itself does not spawn anything and returns once the job has reached a
// terminal write for this attempt.
//
// Step 1's transition uses a conditional UPDATE ... WHERE status='pending'
// (store.BeginProcessing) so that of several concurrent callers racing on
// the same job id, exactly one proceeds past this point; the rest observe
// ok=false and return immediately. Handlers are still expected to be
// idempotent regardless, per the lease-timeout note in §5.
func (d *Dispatcher) ProcessJob(ctx context.Context, id uuid.UUID) {
	ctx, span := tracer.Start(ctx, "dispatcher.process")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id.String()))

	ok, job, err := d.store.BeginProcessing(ctx, id)
	if err != nil {
		d.log.Error("BeginProcessing failed", "job_id", id.String(), "error", err)
		return
	}
	if !ok {
		// Lost the CAS race, or job was no longer pending. Another
		// dispatch already owns (or already finished) this attempt.
		return
	}

	d.RunClaimed(ctx, job)
}

// RunClaimed executes steps 2-5 of §4.4's process(job) sequence for a job
// that has ALREADY been transitioned to processing (step 1). It exists
// separately from ProcessJob so the worker-pool path (§5) — which claims
// a job already-in-processing via store.ClaimAnyPending — can run the
// rest of the state machine without attempting a second, redundant
// pending->processing CAS.
func (d *Dispatcher) RunClaimed(ctx context.Context, job *domain.Job) {
	log := d.log.With("job_id", job.ID.String(), "job_type", job.Type, "attempt", job.Attempts)
	if d.notify != nil {
		d.notify.JobStarted(ctx, job)
	}

	entry, known := d.registry.Lookup(job.Type)
	if !known {
		log.Error("No handler registered for job type")
		now := time.Now().UTC()
		if err := d.store.FailTerminal(ctx, job.ID, "unknown job type", now); err != nil {
			log.Error("FailTerminal failed", "error", err)
		}
		job.Status = domain.JobStatusFailed
		job.Error = "unknown job type"
		if d.notify != nil {
			d.notify.JobFailed(ctx, job, false)
		}
		return
	}

	result, runErr := d.invokeHandler(ctx, entry, job)

	if runErr == nil {
		now := time.Now().UTC()
		if err := d.store.Complete(ctx, job.ID, result, now); err != nil {
			log.Error("Complete failed", "error", err)
			return
		}
		job.Status = domain.JobStatusCompleted
		job.Result = result
		if d.notify != nil {
			d.notify.JobCompleted(ctx, job)
		}
		return
	}

	maxAttempts := d.defaultMaxAttempts
	if entry.MaxAttempts > 0 {
		maxAttempts = entry.MaxAttempts
	}
	if job.MaxAttempts > 0 {
		maxAttempts = job.MaxAttempts
	}

	// BeginProcessing already incremented attempts, so job.Attempts is
	// the post-increment value (the "new_attempts" of §4.4 step 5).
	newAttempts := job.Attempts
	if newAttempts >= maxAttempts {
		now := time.Now().UTC()
		if err := d.store.FailTerminal(ctx, job.ID, runErr.Error(), now); err != nil {
			log.Error("FailTerminal failed", "error", err)
			return
		}
		job.Status = domain.JobStatusFailed
		job.Error = runErr.Error()
		if d.notify != nil {
			d.notify.JobFailed(ctx, job, false)
		}
		return
	}

	preIncrementAttempts := newAttempts - 1
	delay := d.backoff(preIncrementAttempts)
	nextRetryAt := time.Now().UTC().Add(delay)
	if err := d.store.FailRetryable(ctx, job.ID, runErr.Error(), nextRetryAt); err != nil {
		log.Error("FailRetryable failed", "error", err)
		return
	}
	job.Status = domain.JobStatusPending
	job.Error = runErr.Error()
	job.NextRetryAt = &nextRetryAt
	if d.notify != nil {
		d.notify.JobFailed(ctx, job, true)
	}
}

// Heartbeat lets a still-running handler refresh its lease without
// finishing (spec.md §10.1, supplemented): a job that legitimately runs
// longer than LEASE_TIMEOUT would otherwise look stale to the reaper and
// be requeued onto a second dispatcher even though it is healthy. A
// handler calls this from within its own body while RunClaimed waits on
// it; it sets started_at (and updated_at) to now and never touches
// attempts, status, or any other column.
func (d *Dispatcher) Heartbeat(ctx context.Context, jobID uuid.UUID) error {
	return d.store.Heartbeat(ctx, jobID, time.Now().UTC())
}

// backoff implements spec.md §4.4's exponential-base-2 policy in seconds:
// backoff(n) = 2^n, for the nth retry already consumed before this
// failure (1s, 2s, 4s, 8s, ...), capped at maxBackoff.
func (d *Dispatcher) backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	base := d.backoffBase
	if base <= 0 {
		base = time.Second
	}
	seconds := math.Pow(2, float64(n))
	delay := time.Duration(seconds) * base
	if d.maxBackoff > 0 && delay > d.maxBackoff {
		return d.maxBackoff
	}
	return delay
}

// invokeHandler wraps the user-supplied handler with panic recovery,
// grounded on the teacher's worker.go defer/recover block: a handler panic
// is treated as a normal (retryable, subject to max_attempts) handler
// error rather than crashing the dispatch goroutine.
func (d *Dispatcher) invokeHandler(ctx context.Context, entry registry.Entry, job *domain.Job) (result datatypes.JSON, err error) {
	ctx, span := tracer.Start(ctx, "dispatcher.invoke_handler")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic", "job_id", job.ID.String(), "job_type", job.Type, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return entry.Fn(ctx, job.Payload, job)
}
