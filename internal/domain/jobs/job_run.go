package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "urgent":
		return PriorityUrgent, true
	default:
		return 0, false
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Stage is a canonical pipeline step name. Order here is the order enforced
// by the orchestrator; skipping a stage is forbidden.
type Stage string

const (
	StageInitializing Stage = "initializing"
	StagePlanning     Stage = "planning"
	StageScenario     Stage = "scenario_creation"
	StageCodeGen      Stage = "code_generation"
	StageRendering    Stage = "rendering"
	StageCombining    Stage = "combining"
	StageStorage      Stage = "storage"
	StageCompleted    Stage = "completed"
)

// CanonicalStages is the fixed pipeline order; a Job's StagesCompleted must
// always be a prefix of this slice.
var CanonicalStages = []Stage{
	StageInitializing,
	StagePlanning,
	StageScenario,
	StageCodeGen,
	StageRendering,
	StageCombining,
	StageStorage,
	StageCompleted,
}

// StageCheckpoint is the progress percentage floor at stage entry.
var StageCheckpoint = map[Stage]int{
	StageInitializing: 5,
	StagePlanning:     15,
	StageScenario:     30,
	StageCodeGen:      50,
	StageRendering:    80,
	StageCombining:    90,
	StageStorage:      95,
	StageCompleted:    100,
}

// Job is the root entity driven through the pipeline by the orchestrator.
// Configuration/StagesCompleted/Attempts/Error are jsonb columns, matching
// the teacher's convention of storing structured payload/result as
// datatypes.JSON rather than normalized child tables.
type Job struct {
	JobID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"job_id"`
	UserID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Priority        Priority       `gorm:"column:priority;not null;default:1;index" json:"priority"`
	Status          JobStatus      `gorm:"column:status;not null;index" json:"status"`
	Configuration   datatypes.JSON `gorm:"column:configuration;type:jsonb" json:"configuration"`
	Progress        float64        `gorm:"column:progress;type:numeric(5,2);not null;default:0" json:"progress"`
	CurrentStage    *string        `gorm:"column:current_stage" json:"current_stage,omitempty"`
	StagesCompleted datatypes.JSON `gorm:"column:stages_completed;type:jsonb" json:"stages_completed"`
	Attempts        datatypes.JSON `gorm:"column:attempts;type:jsonb" json:"attempts"`
	Error           datatypes.JSON `gorm:"column:error;type:jsonb" json:"error,omitempty"`
	BatchID         *string        `gorm:"column:batch_id;index" json:"batch_id,omitempty"`
	IdempotencyKey  *string        `gorm:"column:idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	StartedAt       *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Job) TableName() string { return "jobs" }

// StagesCompletedSlice decodes the StagesCompleted jsonb column.
func (j *Job) StagesCompletedSlice() []Stage {
	if len(j.StagesCompleted) == 0 {
		return nil
	}
	var raw []string
	if err := json.Unmarshal(j.StagesCompleted, &raw); err != nil {
		return nil
	}
	out := make([]Stage, 0, len(raw))
	for _, s := range raw {
		out = append(out, Stage(s))
	}
	return out
}

func EncodeStages(stages []Stage) datatypes.JSON {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	raw, _ := json.Marshal(names)
	return datatypes.JSON(raw)
}

// AttemptsMap decodes the per-stage attempt counter column.
func (j *Job) AttemptsMap() map[string]int {
	out := map[string]int{}
	if len(j.Attempts) == 0 {
		return out
	}
	_ = json.Unmarshal(j.Attempts, &out)
	return out
}

func EncodeAttempts(m map[string]int) datatypes.JSON {
	raw, _ := json.Marshal(m)
	return datatypes.JSON(raw)
}
