package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ProgressEvent is the append-only ledger of stage/percentage transitions
// for a job. Partitioned by job, total order equals emission order.
type ProgressEvent struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	TS         time.Time      `gorm:"column:ts;not null;default:now();index" json:"ts"`
	Stage      string         `gorm:"column:stage;not null" json:"stage"`
	Percentage float64        `gorm:"column:percentage;type:numeric(5,2);not null" json:"percentage"`
	Message    string         `gorm:"column:message;type:text" json:"message,omitempty"`
	Severity   Severity       `gorm:"column:severity;not null;default:info" json:"severity"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ProgressEvent) TableName() string { return "progress_events" }
