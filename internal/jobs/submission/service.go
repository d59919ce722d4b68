// Package submission implements the four use cases spec §4.12 names:
// Submit, Status, Cancel, Artifacts. Adapted from the teacher's
// internal/services pattern of one interface per bounded capability backed
// by repos + dbctx.Context, generalized from a single "enroll a user in a
// course" write path to the job-submission write path plus three read/
// transition paths.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	jobsrepo "github.com/clipforge/clipforge-backend/internal/data/repos/jobs"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/jobs/cancelregistry"
	"github.com/clipforge/clipforge-backend/internal/platform/clock"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
	"github.com/clipforge/clipforge-backend/internal/storage"
)

// idempotencyWindow is spec §4.12's "duplicate submission within 24 h
// returns the original job_id".
const idempotencyWindow = 24 * time.Hour

// defaultPresignTTL backs artifacts() when configuration omits one, per
// spec §4.4's "default 1 h".
const defaultPresignTTL = time.Hour

type Service struct {
	db      *gorm.DB
	log     *logger.Logger
	users   jobsrepo.UserRepo
	jobs    jobsrepo.JobRepo
	queue   jobsrepo.QueueRepo
	files   jobsrepo.FileRepo
	storage *storage.Manager
	clock   clock.Clock
	cancels *cancelregistry.Registry
}

func NewService(db *gorm.DB, log *logger.Logger, users jobsrepo.UserRepo, jobs jobsrepo.JobRepo, queue jobsrepo.QueueRepo, files jobsrepo.FileRepo, storageManager *storage.Manager) *Service {
	return &Service{
		db:      db,
		log:     log.With("service", "SubmissionService"),
		users:   users,
		jobs:    jobs,
		queue:   queue,
		files:   files,
		storage: storageManager,
		clock:   clock.SystemClock(),
		cancels: cancelregistry.New(),
	}
}

// WithClock replaces the service's clock, for tests that need deterministic
// job/correlation IDs or timestamps.
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

// WithCancelRegistry replaces the service's cancel registry, so Cancel can
// reach a job a shared worker.Worker is currently running in-process.
// Defaults to a private registry so a Service used standalone (e.g. in
// tests, or a process with no local worker) never panics on a nil map.
func (s *Service) WithCancelRegistry(r *cancelregistry.Registry) *Service {
	s.cancels = r
	return s
}

// SubmitInput is the validated request shape; configuration is a
// pass-through blob (stage-specific parsing happens in internal/jobs/stages
// on first run, not at submission time).
type SubmitInput struct {
	UserID         uuid.UUID
	Configuration  map[string]any
	Priority       string
	IdempotencyKey string
}

// Submit validates and enqueues a new job, honoring idempotency-key dedup,
// per spec §4.12.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*types.Job, error) {
	if len(in.Configuration) == 0 {
		return nil, types.NewErrorRecord(types.ErrValidation, "submission", s.clock.NewID(), "configuration is required")
	}
	priority, ok := types.ParsePriority(in.Priority)
	if !ok {
		if in.Priority == "" {
			priority = types.PriorityNormal
		} else {
			return nil, types.NewErrorRecord(types.ErrValidation, "submission", s.clock.NewID(), fmt.Sprintf("invalid priority %q", in.Priority))
		}
	}

	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.users.EnsureExists(dbc, in.UserID, types.RoleUser); err != nil {
		return nil, fmt.Errorf("failed to ensure user exists: %w", err)
	}

	if in.IdempotencyKey != "" {
		existing, err := s.jobs.FindByIdempotencyKey(dbc, in.UserID, in.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil && time.Since(existing.CreatedAt) < idempotencyWindow {
			return existing, nil
		}
	}

	configJSON, err := json.Marshal(in.Configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}

	job := &types.Job{
		JobID:         s.clock.NewID(),
		UserID:        in.UserID,
		Priority:      priority,
		Status:        types.JobQueued,
		Configuration: datatypes.JSON(configJSON),
		Progress:      0,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		job.IdempotencyKey = &key
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.jobs.Create(txc, job); err != nil {
			return err
		}
		return s.queue.Enqueue(txc, job.JobID, priority)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}
	return job, nil
}

// JobView is the read-model spec §4.12's status() returns.
type JobView struct {
	JobID           uuid.UUID          `json:"job_id"`
	Status          types.JobStatus    `json:"status"`
	Progress        float64            `json:"progress"`
	CurrentStage    *string            `json:"current_stage,omitempty"`
	StagesCompleted []types.Stage      `json:"stages_completed"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	Error           *types.ErrorRecord `json:"error,omitempty"`
}

// Status returns a job's current view. Authorization (owner-or-admin) is
// the caller's responsibility since only the caller knows the requester's
// role; Status itself just enforces ownership when isAdmin is false.
func (s *Service) Status(ctx context.Context, jobID, userID uuid.UUID, isAdmin bool) (*JobView, error) {
	job, err := s.jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, types.NewErrorRecord(types.ErrNotFound, "submission", s.clock.NewID(), "job not found")
	}
	if !isAdmin && job.UserID != userID {
		return nil, types.NewErrorRecord(types.ErrPermission, "submission", s.clock.NewID(), "not authorized to view this job")
	}

	view := &JobView{
		JobID:           job.JobID,
		Status:          job.Status,
		Progress:        job.Progress,
		CurrentStage:    job.CurrentStage,
		StagesCompleted: job.StagesCompletedSlice(),
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
	if len(job.Error) > 0 {
		var rec types.ErrorRecord
		if err := json.Unmarshal(job.Error, &rec); err == nil {
			view.Error = &rec
		}
	}
	return view, nil
}

// Cancel transitions a queued or processing job to cancelled, per spec
// §4.10's state machine, then reaches into cancelregistry.Registry to tear
// down the in-flight run's context if a worker on this process is currently
// executing it. That teardown is still best-effort — a job queued but not
// yet dispatched, or running on another process, only has its status
// flipped here and is observed by the eventual worker at its next
// checkpoint.
func (s *Service) Cancel(ctx context.Context, jobID, userID uuid.UUID, isAdmin bool) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return types.NewErrorRecord(types.ErrNotFound, "submission", s.clock.NewID(), "job not found")
	}
	if !isAdmin && job.UserID != userID {
		return types.NewErrorRecord(types.ErrPermission, "submission", s.clock.NewID(), "not authorized to cancel this job")
	}
	if job.Status != types.JobQueued && job.Status != types.JobProcessing {
		return types.NewErrorRecord(types.ErrConflict, "submission", s.clock.NewID(), fmt.Sprintf("cannot cancel job in status %q", job.Status))
	}

	now := s.clock.Now()
	ok, err := s.jobs.UpdateFieldsUnlessStatus(dbc, jobID, []types.JobStatus{types.JobCompleted, types.JobFailed, types.JobCancelled}, map[string]interface{}{
		"status":       types.JobCancelled,
		"completed_at": now,
	})
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if !ok {
		return types.NewErrorRecord(types.ErrConflict, "submission", s.clock.NewID(), "job reached a terminal state before cancellation could apply")
	}
	// Best-effort: if a worker on this process is currently running jobID,
	// tear down its context so it stops mid-stage instead of only noticing
	// the status flip on its next checkpoint. A miss here (job queued but
	// not yet dispatched, or running on another process) is fine — the
	// worker's own terminal-status guard still keeps it from overwriting
	// the cancellation once it does notice.
	s.cancels.Cancel(jobID)
	return nil
}

// Artifacts is spec §4.12's artifacts() read-model: presigned URLs for the
// combined video, every scene video, and any thumbnails, only once the job
// has completed.
type Artifacts struct {
	CombinedURL     string   `json:"combined_url"`
	SceneURLs       []string `json:"scene_urls"`
	Thumbnails      []string `json:"thumbnails"`
	DurationSeconds float64  `json:"duration_seconds"`
	ContentType     string   `json:"content_type"`
	SizeBytes       int64    `json:"size_bytes"`
}

func (s *Service) Artifacts(ctx context.Context, jobID, userID uuid.UUID, isAdmin bool) (*Artifacts, error) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, types.NewErrorRecord(types.ErrNotFound, "submission", s.clock.NewID(), "job not found")
	}
	if !isAdmin && job.UserID != userID {
		return nil, types.NewErrorRecord(types.ErrPermission, "submission", s.clock.NewID(), "not authorized to view this job's artifacts")
	}
	if job.Status != types.JobCompleted {
		return nil, types.NewErrorRecord(types.ErrConflict, "submission", s.clock.NewID(), "artifacts are only available once the job has completed")
	}

	ttl := presignTTLFromConfig(job.Configuration)

	files, err := s.files.ListByJob(dbc, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job files: %w", err)
	}

	out := &Artifacts{}
	for _, f := range files {
		if f.ObjectKey == nil {
			continue
		}
		url, err := s.storage.Presign(ctx, *f.ObjectKey, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to presign %s: %w", *f.ObjectKey, err)
		}
		switch f.Kind {
		case types.FileCombinedVideo:
			out.CombinedURL = url
			out.ContentType = f.ContentType
			out.SizeBytes = f.SizeBytes
			if f.DurationSeconds != nil {
				out.DurationSeconds = *f.DurationSeconds
			}
		case types.FileSceneVideo:
			out.SceneURLs = append(out.SceneURLs, url)
		case types.FileThumbnail:
			out.Thumbnails = append(out.Thumbnails, url)
		}
	}
	return out, nil
}

// RawConfiguration returns a job's raw configuration blob for read-model
// fields (quality, output_format) that JobView/Artifacts don't surface
// themselves. Returns nil on any failure, including authorization, since
// callers use this only for best-effort display metadata.
func (s *Service) RawConfiguration(ctx context.Context, jobID, userID uuid.UUID, isAdmin bool) datatypes.JSON {
	job, err := s.jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil || job == nil {
		return nil
	}
	if !isAdmin && job.UserID != userID {
		return nil
	}
	return job.Configuration
}

func presignTTLFromConfig(configuration datatypes.JSON) time.Duration {
	if len(configuration) == 0 {
		return defaultPresignTTL
	}
	var cfg struct {
		PresignTTLSeconds *int `json:"presign_ttl_seconds"`
	}
	if err := json.Unmarshal(configuration, &cfg); err != nil || cfg.PresignTTLSeconds == nil {
		return defaultPresignTTL
	}
	ttl := time.Duration(*cfg.PresignTTLSeconds) * time.Second
	if ttl < 60*time.Second {
		return 60 * time.Second
	}
	if ttl > 7*24*time.Hour {
		return 7 * 24 * time.Hour
	}
	return ttl
}
