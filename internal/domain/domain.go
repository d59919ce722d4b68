// Package domain re-exports the job-orchestration domain types under one
// import path, the same flattening convention the teacher used to aggregate
// its many domain subpackages behind "internal/domain".
package domain

import (
	"github.com/clipforge/clipforge-backend/internal/domain/jobs"
)

type UserRole = jobs.UserRole

const (
	RoleUser  = jobs.RoleUser
	RoleAdmin = jobs.RoleAdmin
)

type User = jobs.User

type Priority = jobs.Priority

const (
	PriorityLow    = jobs.PriorityLow
	PriorityNormal = jobs.PriorityNormal
	PriorityHigh   = jobs.PriorityHigh
	PriorityUrgent = jobs.PriorityUrgent
)

var ParsePriority = jobs.ParsePriority

type JobStatus = jobs.JobStatus

const (
	JobQueued     = jobs.JobQueued
	JobProcessing = jobs.JobProcessing
	JobCompleted  = jobs.JobCompleted
	JobFailed     = jobs.JobFailed
	JobCancelled  = jobs.JobCancelled
)

type Stage = jobs.Stage

const (
	StageInitializing = jobs.StageInitializing
	StagePlanning     = jobs.StagePlanning
	StageScenario     = jobs.StageScenario
	StageCodeGen      = jobs.StageCodeGen
	StageRendering    = jobs.StageRendering
	StageCombining    = jobs.StageCombining
	StageStorage      = jobs.StageStorage
	StageCompleted    = jobs.StageCompleted
)

var (
	CanonicalStages = jobs.CanonicalStages
	StageCheckpoint = jobs.StageCheckpoint
	EncodeStages    = jobs.EncodeStages
	EncodeAttempts  = jobs.EncodeAttempts
)

type Job = jobs.Job

type Severity = jobs.Severity

const (
	SeverityInfo    = jobs.SeverityInfo
	SeverityWarning = jobs.SeverityWarning
	SeverityError   = jobs.SeverityError
)

type ProgressEvent = jobs.ProgressEvent

type FileKind = jobs.FileKind

const (
	FileSceneVideo    = jobs.FileSceneVideo
	FileCombinedVideo = jobs.FileCombinedVideo
	FileThumbnail     = jobs.FileThumbnail
	FileSceneCode     = jobs.FileSceneCode
	FileAsset         = jobs.FileAsset
)

type FileMetadata = jobs.FileMetadata

type QueueEntry = jobs.QueueEntry

type ErrorKind = jobs.ErrorKind

const (
	ErrValidation            = jobs.ErrValidation
	ErrNotFound              = jobs.ErrNotFound
	ErrPermission            = jobs.ErrPermission
	ErrConflict              = jobs.ErrConflict
	ErrRateLimited           = jobs.ErrRateLimited
	ErrTimeout               = jobs.ErrTimeout
	ErrDependencyUnavailable = jobs.ErrDependencyUnavailable
	ErrDependencyError       = jobs.ErrDependencyError
	ErrInternal              = jobs.ErrInternal
	ErrCancelled             = jobs.ErrCancelled
)

type ErrorRecord = jobs.ErrorRecord

var NewErrorRecord = jobs.NewErrorRecord
