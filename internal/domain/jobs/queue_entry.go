package jobs

import (
	"time"

	"github.com/google/uuid"
)

// QueueEntry is the durable dispatch record for a job. At most one active
// entry exists per job_id; LeaseOwner is set iff LeaseExpiresAt > now().
type QueueEntry struct {
	JobID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"job_id"`
	Priority      Priority   `gorm:"column:priority;not null;index:idx_job_queue_dispatch,priority DESC" json:"priority"`
	EnqueuedAt    time.Time  `gorm:"column:enqueued_at;not null;default:now();index:idx_job_queue_dispatch,priority DESC" json:"enqueued_at"`
	VisibleAfter  time.Time  `gorm:"column:visible_after;not null;default:now()" json:"visible_after"`
	LeaseOwner    *string    `gorm:"column:lease_owner" json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at" json:"lease_expires_at,omitempty"`
	Attempts      int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
}

func (QueueEntry) TableName() string { return "job_queue" }
