package submission

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	jobsrepo "github.com/clipforge/clipforge-backend/internal/data/repos/jobs"
	"github.com/clipforge/clipforge-backend/internal/data/repos/testutil"
	"github.com/clipforge/clipforge-backend/internal/breaker"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/clock"
	"github.com/clipforge/clipforge-backend/internal/retry"
	"github.com/clipforge/clipforge-backend/internal/storage"
)

// fakePresignBackend is a minimal in-memory storage.Backend+Presigner so
// Artifacts() can be exercised without a real GCS bucket.
type fakePresignBackend struct {
	objects map[string][]byte
}

func newFakePresignBackend() *fakePresignBackend {
	return &fakePresignBackend{objects: map[string][]byte{}}
}

func (f *fakePresignBackend) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	f.objects[key] = b
	return int64(len(b)), nil
}

func (f *fakePresignBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.objects[key])), nil
}

func (f *fakePresignBackend) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakePresignBackend) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakePresignBackend) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://example.com/" + key, nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB, context.Context) {
	t.Helper()
	db := testutil.DB(t)
	gtx := testutil.Tx(t, db)

	log := testutil.Logger(t)
	br := breaker.New("object_store", breaker.Config{
		FailureThreshold: 100,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
		CallTimeout:      5 * time.Second,
		MaxOpenTimeout:   time.Minute,
	})
	mgr := storage.NewManager(storage.ModeRemoteOnly, nil, newFakePresignBackend(), br, retry.NewPolicy(types.ErrDependencyError, map[string]int{"dependency_error": 1}), false)

	svc := NewService(gtx, log,
		jobsrepo.NewUserRepo(gtx, log),
		jobsrepo.NewJobRepo(gtx, log),
		jobsrepo.NewQueueRepo(gtx, log),
		jobsrepo.NewFileRepo(gtx, log),
		mgr,
	)
	return svc, gtx, context.Background()
}

func TestServiceSubmitCreatesJobAndEnqueues(t *testing.T) {
	svc, gtx, ctx := newTestService(t)
	userID := uuid.New()

	job, err := svc.Submit(ctx, SubmitInput{
		UserID:        userID,
		Configuration: map[string]any{"topic": "jazz history"},
		Priority:      "high",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != types.JobQueued {
		t.Fatalf("status = %v, want queued", job.Status)
	}

	var count int64
	if err := gtx.Model(&types.QueueEntry{}).Where("job_id = ?", job.JobID).Count(&count).Error; err != nil {
		t.Fatalf("count queue entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one queue entry, got %d", count)
	}
}

func TestServiceSubmitUsesInjectedClockForJobID(t *testing.T) {
	svc, _, ctx := newTestService(t)
	seeded := uuid.New()
	svc.WithClock(clock.NewFakeClock(time.Now(), seeded))

	job, err := svc.Submit(ctx, SubmitInput{
		UserID:        uuid.New(),
		Configuration: map[string]any{"topic": "jazz history"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.JobID != seeded {
		t.Fatalf("JobID = %v, want the seeded clock ID %v", job.JobID, seeded)
	}
}

func TestServiceSubmitRejectsMissingConfiguration(t *testing.T) {
	svc, _, ctx := newTestService(t)
	_, err := svc.Submit(ctx, SubmitInput{UserID: uuid.New()})
	rec, ok := err.(*types.ErrorRecord)
	if !ok || rec.Kind != types.ErrValidation {
		t.Fatalf("expected a validation error record for missing configuration, got %v", err)
	}
}

func TestServiceSubmitRejectsInvalidPriority(t *testing.T) {
	svc, _, ctx := newTestService(t)
	_, err := svc.Submit(ctx, SubmitInput{
		UserID:        uuid.New(),
		Configuration: map[string]any{"topic": "jazz"},
		Priority:      "urgent-ish",
	})
	rec, ok := err.(*types.ErrorRecord)
	if !ok || rec.Kind != types.ErrValidation {
		t.Fatalf("expected a validation error record for an invalid priority, got %v", err)
	}
}

func TestServiceSubmitIsIdempotentWithinWindow(t *testing.T) {
	svc, _, ctx := newTestService(t)
	userID := uuid.New()
	in := SubmitInput{
		UserID:         userID,
		Configuration:  map[string]any{"topic": "jazz"},
		IdempotencyKey: "req-1",
	}

	first, err := svc.Submit(ctx, in)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := svc.Submit(ctx, in)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.JobID != first.JobID {
		t.Fatalf("expected the same job_id on duplicate submission, got %v and %v", first.JobID, second.JobID)
	}
}

func TestServiceStatusRejectsNonOwnerNonAdmin(t *testing.T) {
	svc, gtx, ctx := newTestService(t)
	owner := testutil.SeedUser(t, ctx, gtx, types.RoleUser)
	job := testutil.SeedJob(t, ctx, gtx, owner.UserID, types.JobProcessing, types.PriorityNormal)

	_, err := svc.Status(ctx, job.JobID, uuid.New(), false)
	rec, ok := err.(*types.ErrorRecord)
	if !ok || rec.Kind != types.ErrPermission {
		t.Fatalf("expected a permission error for a non-owner caller, got %v", err)
	}
}

func TestServiceStatusReturnsNotFoundForUnknownJob(t *testing.T) {
	svc, _, ctx := newTestService(t)
	_, err := svc.Status(ctx, uuid.New(), uuid.New(), true)
	rec, ok := err.(*types.ErrorRecord)
	if !ok || rec.Kind != types.ErrNotFound {
		t.Fatalf("expected a not_found error record, got %v", err)
	}
}

func TestServiceCancelTransitionsQueuedJobToCancelled(t *testing.T) {
	svc, gtx, ctx := newTestService(t)
	owner := testutil.SeedUser(t, ctx, gtx, types.RoleUser)
	job := testutil.SeedJob(t, ctx, gtx, owner.UserID, types.JobQueued, types.PriorityNormal)

	if err := svc.Cancel(ctx, job.JobID, owner.UserID, false); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	view, err := svc.Status(ctx, job.JobID, owner.UserID, false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if view.Status != types.JobCancelled {
		t.Fatalf("status = %v, want cancelled", view.Status)
	}
}

func TestServiceCancelRejectsTerminalJob(t *testing.T) {
	svc, gtx, ctx := newTestService(t)
	owner := testutil.SeedUser(t, ctx, gtx, types.RoleUser)
	job := testutil.SeedJob(t, ctx, gtx, owner.UserID, types.JobCompleted, types.PriorityNormal)

	err := svc.Cancel(ctx, job.JobID, owner.UserID, false)
	rec, ok := err.(*types.ErrorRecord)
	if !ok || rec.Kind != types.ErrConflict {
		t.Fatalf("expected a conflict error for cancelling a completed job, got %v", err)
	}
}

func seedFileWithObjectKey(t *testing.T, gtx *gorm.DB, ownerUserID, jobID uuid.UUID, kind types.FileKind, logicalName, objectKey string) {
	t.Helper()
	f := testutil.SeedFileMetadata(t, context.Background(), gtx, ownerUserID, jobID, kind, logicalName)
	if err := gtx.Model(&types.FileMetadata{}).Where("file_id = ?", f.FileID).Update("object_key", objectKey).Error; err != nil {
		t.Fatalf("set object_key: %v", err)
	}
}

func TestServiceArtifactsRejectsIncompleteJob(t *testing.T) {
	svc, gtx, ctx := newTestService(t)
	owner := testutil.SeedUser(t, ctx, gtx, types.RoleUser)
	job := testutil.SeedJob(t, ctx, gtx, owner.UserID, types.JobProcessing, types.PriorityNormal)

	_, err := svc.Artifacts(ctx, job.JobID, owner.UserID, false)
	rec, ok := err.(*types.ErrorRecord)
	if !ok || rec.Kind != types.ErrConflict {
		t.Fatalf("expected a conflict error before the job has completed, got %v", err)
	}
}

func TestServiceArtifactsPresignsEveryFileKind(t *testing.T) {
	svc, gtx, ctx := newTestService(t)
	owner := testutil.SeedUser(t, ctx, gtx, types.RoleUser)
	job := testutil.SeedJob(t, ctx, gtx, owner.UserID, types.JobCompleted, types.PriorityNormal)
	seedFileWithObjectKey(t, gtx, owner.UserID, job.JobID, types.FileCombinedVideo, "combined", "users/x/jobs/y/videos/combined.mp4")
	seedFileWithObjectKey(t, gtx, owner.UserID, job.JobID, types.FileSceneVideo, "scene_video_000", "users/x/jobs/y/videos/scene_000/output.mp4")
	seedFileWithObjectKey(t, gtx, owner.UserID, job.JobID, types.FileThumbnail, "thumbnail_small", "users/x/jobs/y/thumbnails/small.jpg")

	artifacts, err := svc.Artifacts(ctx, job.JobID, owner.UserID, false)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if artifacts.CombinedURL == "" {
		t.Fatalf("expected a presigned combined url")
	}
	if len(artifacts.SceneURLs) != 1 || len(artifacts.Thumbnails) != 1 {
		t.Fatalf("expected one scene url and one thumbnail url, got %+v", artifacts)
	}
}
