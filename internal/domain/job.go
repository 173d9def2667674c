package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobStatus is the state-machine position of a Job. See internal/dispatcher
// for the only legal transitions between these values.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is a durable unit of work. Payload is opaque to the store; handlers
// own its schema. Terminal states (Completed, Failed) are absorbing — once
// set, no column on this row changes again.
type Job struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Type        string         `gorm:"column:type;not null;index" json:"type"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	Status      JobStatus      `gorm:"column:status;not null;index" json:"status"`
	Priority    int            `gorm:"column:priority;not null;default:0" json:"priority"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`

	NextRetryAt *time.Time `gorm:"column:next_retry_at" json:"next_retry_at,omitempty"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	Result datatypes.JSON `gorm:"column:result" json:"result,omitempty"`
	Error  string         `gorm:"column:error" json:"error,omitempty"`

	PrincipalID uuid.UUID `gorm:"type:uuid;column:principal_id;not null;index" json:"principal_id"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

// CanDispatch reports whether the job is immediately eligible for
// processing per spec: pending, and next_retry_at is null or not after now.
func (j *Job) CanDispatch(now time.Time) bool {
	if j.Status != JobStatusPending {
		return false
	}
	return j.NextRetryAt == nil || !j.NextRetryAt.After(now)
}
