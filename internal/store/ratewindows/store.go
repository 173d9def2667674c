// Package ratewindows persists the admission counters backing the Rate
// Limiter (spec.md C2). The admit-and-increment step is a single upsert
// statement so concurrent admitters racing on the same (principal, job_type,
// window_start) key never lose an increment — grounded on the teacher's
// GORM clause.OnConflict usage for idempotent counters, generalized from the
// compare-and-set discipline in internal/data/repos/jobs/job_run.go.
package ratewindows

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/platform/logger"
)

type Store interface {
	// CountInWindow returns the current admitted count for the given
	// principal/job_type/window_start, or 0 if no row exists yet.
	CountInWindow(ctx context.Context, principalID uuid.UUID, jobType string, windowStart time.Time) (int, error)

	// Increment upserts the counter row, creating it at count=1 if absent
	// or atomically adding 1 if present. Returns the post-increment count.
	Increment(ctx context.Context, principalID uuid.UUID, jobType string, windowStart time.Time) (int, error)

	// DeleteOlderThan removes rows whose window has closed and aged past
	// retention, used by GC (C8).
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type store struct {
	db  *gorm.DB
	log *logger.Logger
}

func New(db *gorm.DB, baseLog *logger.Logger) Store {
	return &store{db: db, log: baseLog.With("component", "RateWindowStore")}
}

func (s *store) CountInWindow(ctx context.Context, principalID uuid.UUID, jobType string, windowStart time.Time) (int, error) {
	var row domain.RateWindow
	err := s.db.WithContext(ctx).
		Where("principal_id = ? AND job_type = ? AND window_start = ?", principalID, jobType, windowStart).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Count, nil
}

func (s *store) Increment(ctx context.Context, principalID uuid.UUID, jobType string, windowStart time.Time) (int, error) {
	row := domain.RateWindow{
		PrincipalID: principalID,
		JobType:     jobType,
		WindowStart: windowStart,
		Count:       1,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "principal_id"}, {Name: "job_type"}, {Name: "window_start"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("rate_windows.count + 1")}),
		}).
		Create(&row).Error
	if err != nil {
		return 0, err
	}

	// clause.OnConflict + Create does not populate row.Count on the
	// update branch, so re-read to report the post-increment value.
	return s.CountInWindow(ctx, principalID, jobType, windowStart)
}

func (s *store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("window_start < ?", cutoff).Delete(&domain.RateWindow{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
