package cascade

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/intake"
	"github.com/corwinhq/taskforge/internal/platform/logger"
	"github.com/corwinhq/taskforge/internal/ratelimit"
	"github.com/corwinhq/taskforge/internal/registry"
	jobstore "github.com/corwinhq/taskforge/internal/store/jobs"
)

type fakeJobStore struct {
	created []*domain.Job
}

func (f *fakeJobStore) Create(ctx context.Context, job *domain.Job) error {
	f.created = append(f.created, job)
	return nil
}
func (f *fakeJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) { return nil, nil }
func (f *fakeJobStore) List(ctx context.Context, principalID uuid.UUID, filter jobstore.ListFilter) ([]*domain.Job, error) {
	return nil, nil
}
func (f *fakeJobStore) ClaimNextPending(ctx context.Context, principalID uuid.UUID) (*domain.Job, error) {
	return nil, nil
}
func (f *fakeJobStore) ClaimAnyPending(ctx context.Context) (*domain.Job, error) { return nil, nil }
func (f *fakeJobStore) BeginProcessing(ctx context.Context, id uuid.UUID) (bool, *domain.Job, error) {
	return false, nil, nil
}
func (f *fakeJobStore) Complete(ctx context.Context, id uuid.UUID, result datatypes.JSON, completedAt time.Time) error {
	return nil
}
func (f *fakeJobStore) FailRetryable(ctx context.Context, id uuid.UUID, errMsg string, nextRetryAt time.Time) error {
	return nil
}
func (f *fakeJobStore) FailTerminal(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error {
	return nil
}
func (f *fakeJobStore) ResetStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeJobStore) Heartbeat(ctx context.Context, id uuid.UUID, now time.Time) error {
	return nil
}
func (f *fakeJobStore) DeleteTerminalOlderThan(ctx context.Context, status domain.JobStatus, cutoff time.Time, batch int, dryRun bool) (int64, error) {
	return 0, nil
}

type fakeWindowStore struct {
	counts map[string]int
}

func (f *fakeWindowStore) CountInWindow(ctx context.Context, principalID uuid.UUID, jobType string, windowStart time.Time) (int, error) {
	return f.counts[principalID.String()+"|"+jobType], nil
}
func (f *fakeWindowStore) Increment(ctx context.Context, principalID uuid.UUID, jobType string, windowStart time.Time) (int, error) {
	k := principalID.String() + "|" + jobType
	f.counts[k]++
	return f.counts[k], nil
}
func (f *fakeWindowStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newTestCoordinator(t *testing.T, max int) (*Coordinator, *fakeJobStore) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	reg := registry.New()
	noop := func(ctx context.Context, payload datatypes.JSON, job *domain.Job) (datatypes.JSON, error) {
		return payload, nil
	}
	for _, typ := range []string{"tree_generation", "flashcard_generation", "distractor_generation"} {
		if err := reg.Register(typ, noop, 3); err != nil {
			t.Fatalf("Register(%s): %v", typ, err)
		}
	}

	jobs := &fakeJobStore{}
	windows := &fakeWindowStore{counts: map[string]int{}}
	limiter := ratelimit.New(windows, max, time.Hour)

	in := intake.New(jobs, reg, limiter, nil, nil, nil, log, 3, 100, 20)

	policy := &Policy{allowed: map[string]map[string]bool{
		"tree_generation": {"flashcard_generation": true},
	}}
	return New(in, policy, log), jobs
}

func TestEnqueueRespectsPolicy(t *testing.T) {
	c, jobs := newTestCoordinator(t, 20)
	principal := uuid.New()

	job, ok := c.Enqueue(context.Background(), principal, "flashcard_generation", "distractor_generation", datatypes.JSON(`{}`), 0)
	if ok || job != nil {
		t.Fatalf("expected a policy-disallowed edge to be rejected, got ok=%v job=%v", ok, job)
	}
	if len(jobs.created) != 0 {
		t.Fatalf("expected no row to be created for a policy-rejected cascade")
	}
}

func TestEnqueueAllowedByPolicySucceeds(t *testing.T) {
	c, jobs := newTestCoordinator(t, 20)
	principal := uuid.New()

	job, ok := c.Enqueue(context.Background(), principal, "tree_generation", "flashcard_generation", datatypes.JSON(`{"topic":"x"}`), 0)
	if !ok || job == nil {
		t.Fatalf("expected the allowed edge to enqueue successfully")
	}
	if len(jobs.created) != 1 {
		t.Fatalf("expected exactly one row created, got %d", len(jobs.created))
	}
}

// TestEnqueueBulkPartialRateLimitDenial mirrors spec.md §4.7/S5: a parent
// with 12 children and only 8 remaining admissions enqueues 8 and skips 4,
// without failing the parent (the coordinator never returns an error).
func TestEnqueueBulkPartialRateLimitDenial(t *testing.T) {
	c, jobs := newTestCoordinator(t, 8)
	principal := uuid.New()

	payloads := make([]datatypes.JSON, 12)
	for i := range payloads {
		payloads[i] = datatypes.JSON(`{"leaf":true}`)
	}

	enqueued, skipped := c.EnqueueBulk(context.Background(), principal, "tree_generation", "flashcard_generation", payloads, 0)
	if len(enqueued) != 8 {
		t.Fatalf("enqueued: want=8 got=%d", len(enqueued))
	}
	if skipped != 4 {
		t.Fatalf("skipped: want=4 got=%d", skipped)
	}
	if len(jobs.created) != 8 {
		t.Fatalf("rows created: want=8 got=%d", len(jobs.created))
	}
}

func TestEnqueueParentAbsentFromPolicyIsLoggedAndSkipped(t *testing.T) {
	c, jobs := newTestCoordinator(t, 20)
	principal := uuid.New()

	// Policy has no entry at all for this parent type, so every child is
	// disallowed regardless of registry contents.
	job, ok := c.Enqueue(context.Background(), principal, "distractor_generation", "tree_generation", datatypes.JSON(`{}`), 0)
	if ok || job != nil {
		t.Fatalf("expected rejection for a parent type absent from the policy")
	}
	if len(jobs.created) != 0 {
		t.Fatalf("expected no row to be created")
	}
}
