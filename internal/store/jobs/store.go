// Package jobs is the Job Store (spec.md C1): durable persistence of job
// rows, with every operation below committing as a single statement or
// explicit transaction. Grounded on the teacher's
// internal/data/repos/jobs/job_run.go — same tx-or-db fallback idiom, same
// SKIP LOCKED claim pattern, same conditional-update-with-RowsAffected
// hardening for concurrent pollers.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/platform/logger"
)

// ListFilter narrows List to spec.md §4.1's {type?, status?} plus a
// caller-supplied limit (the caller is responsible for clamping to
// MAX_LIST_LIMIT before calling; Store does not know about config).
type ListFilter struct {
	Type   string
	Status domain.JobStatus
	Limit  int
}

type Store interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	List(ctx context.Context, principalID uuid.UUID, filter ListFilter) ([]*domain.Job, error)

	// ClaimNextPending is the batch-poller path of spec.md §4.1: highest
	// priority, then oldest, among pending+dispatchable rows for one
	// principal. Locks the row FOR UPDATE SKIP LOCKED so concurrent
	// pollers never contend on the same row.
	ClaimNextPending(ctx context.Context, principalID uuid.UUID) (*domain.Job, error)

	// ClaimAnyPending is the same claim, unscoped by principal. The spec
	// only names a per-principal claim_next_pending; this is a
	// supplemented operation (DESIGN.md) backing the optional
	// worker-pool dispatch path of §5, which has no per-principal work
	// list to round-robin over and must scan across all principals the
	// way the teacher's ClaimNextRunnable does.
	ClaimAnyPending(ctx context.Context) (*domain.Job, error)

	// BeginProcessing is the CAS-hardened step 1 of the dispatcher's
	// process(job) (spec.md §4.4/§9): only one caller among concurrent
	// dispatchers observes ok=true for a given job id.
	BeginProcessing(ctx context.Context, id uuid.UUID) (ok bool, job *domain.Job, err error)

	Complete(ctx context.Context, id uuid.UUID, result datatypes.JSON, completedAt time.Time) error
	FailRetryable(ctx context.Context, id uuid.UUID, errMsg string, nextRetryAt time.Time) error
	FailTerminal(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error

	// ResetStale is the Stale-Lease Reaper's (C5) sole operation: one bulk
	// statement, safe to call concurrently (each stale row is reset at
	// most once per call, and a second concurrent call simply matches
	// zero rows for anything already reset).
	ResetStale(ctx context.Context, olderThan time.Time) (int64, error)

	// Heartbeat refreshes started_at forward for a still-running handler
	// (spec.md §10.1, supplemented), so the reaper's staleness check
	// keeps reflecting genuine liveness without touching attempts or any
	// column other than started_at and updated_at. A no-op if the job is
	// no longer processing.
	Heartbeat(ctx context.Context, id uuid.UUID, now time.Time) error

	// DeleteTerminalOlderThan implements one category of GC (C8): only
	// completed or failed rows strictly older than cutoff are eligible.
	// dryRun counts instead of deleting.
	DeleteTerminalOlderThan(ctx context.Context, status domain.JobStatus, cutoff time.Time, batch int, dryRun bool) (int64, error)
}

type store struct {
	db  *gorm.DB
	log *logger.Logger
}

func New(db *gorm.DB, baseLog *logger.Logger) Store {
	return &store{db: db, log: baseLog.With("component", "JobStore")}
}

func (s *store) Create(ctx context.Context, job *domain.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return err
	}
	return nil
}

func (s *store) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *store) List(ctx context.Context, principalID uuid.UUID, filter ListFilter) ([]*domain.Job, error) {
	q := s.db.WithContext(ctx).Model(&domain.Job{}).Where("principal_id = ?", principalID)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	var out []*domain.Job
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) ClaimNextPending(ctx context.Context, principalID uuid.UUID) (*domain.Job, error) {
	return s.claimNextPending(ctx, &principalID)
}

func (s *store) ClaimAnyPending(ctx context.Context) (*domain.Job, error) {
	return s.claimNextPending(ctx, nil)
}

func (s *store) claimNextPending(ctx context.Context, principalID *uuid.UUID) (*domain.Job, error) {
	now := time.Now().UTC()
	var claimed *domain.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", domain.JobStatusPending, now)
		if principalID != nil {
			q = q.Where("principal_id = ?", *principalID)
		}

		var job domain.Job
		err := q.Order("priority DESC, created_at ASC").Limit(1).First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&domain.Job{}).
			Where("id = ? AND status = ?", job.ID, domain.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     domain.JobStatusProcessing,
				"started_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the CAS race to another claimer between SELECT and UPDATE.
			return nil
		}
		job.Status = domain.JobStatusProcessing
		job.StartedAt = &now
		job.Attempts++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *store) BeginProcessing(ctx context.Context, id uuid.UUID) (bool, *domain.Job, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusProcessing,
			"started_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil, nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return true, job, nil
}

func (s *store) Complete(ctx context.Context, id uuid.UUID, result datatypes.JSON, completedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusCompleted,
			"result":       result,
			"error":        "",
			"completed_at": completedAt,
			"updated_at":   completedAt,
		}).Error
}

func (s *store) FailRetryable(ctx context.Context, id uuid.UUID, errMsg string, nextRetryAt time.Time) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":        domain.JobStatusPending,
			"error":         errMsg,
			"next_retry_at": nextRetryAt,
			"updated_at":    now,
		}).Error
}

func (s *store) FailTerminal(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusFailed,
			"error":        errMsg,
			"completed_at": completedAt,
			"updated_at":   completedAt,
		}).Error
}

func (s *store) ResetStale(ctx context.Context, olderThan time.Time) (int64, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&domain.Job{}).
		Where("status = ? AND started_at < ?", domain.JobStatusProcessing, olderThan).
		Updates(map[string]interface{}{
			"status":        domain.JobStatusPending,
			"next_retry_at": now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *store) Heartbeat(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobStatusProcessing).
		Updates(map[string]interface{}{
			"started_at": now,
			"updated_at": now,
		}).Error
}

func (s *store) DeleteTerminalOlderThan(ctx context.Context, status domain.JobStatus, cutoff time.Time, batch int, dryRun bool) (int64, error) {
	if status != domain.JobStatusCompleted && status != domain.JobStatusFailed {
		return 0, errors.New("gc: only terminal statuses are eligible for deletion")
	}
	q := s.db.WithContext(ctx).Model(&domain.Job{}).
		Where("status = ? AND completed_at < ?", status, cutoff)

	if dryRun {
		var count int64
		if err := q.Count(&count).Error; err != nil {
			return 0, err
		}
		return count, nil
	}

	sub := s.db.WithContext(ctx).Model(&domain.Job{}).
		Select("id").
		Where("status = ? AND completed_at < ?", status, cutoff).
		Order("completed_at ASC").
		Limit(batch)
	res := s.db.WithContext(ctx).Where("id IN (?)", sub).Delete(&domain.Job{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
