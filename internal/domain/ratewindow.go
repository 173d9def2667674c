package domain

import (
	"time"

	"github.com/google/uuid"
)

// RateWindow is a one-hour admission counter keyed by principal and job
// type. WindowStart is always floor-to-hour, never round-to-nearest.
type RateWindow struct {
	PrincipalID uuid.UUID `gorm:"type:uuid;column:principal_id;primaryKey" json:"principal_id"`
	JobType     string    `gorm:"column:job_type;primaryKey" json:"job_type"`
	WindowStart time.Time `gorm:"column:window_start;primaryKey" json:"window_start"`
	Count       int       `gorm:"column:count;not null;default:0" json:"count"`
}

func (RateWindow) TableName() string { return "rate_windows" }

// FloorToHour truncates t to the start of its hour in UTC, matching the
// spec's window_start semantics exactly (no rounding).
func FloorToHour(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}
