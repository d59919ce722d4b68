package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, role types.UserRole) *types.User {
	tb.Helper()
	u := &types.User{
		UserID: uuid.New(),
		Role:   role,
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, status types.JobStatus, priority types.Priority) *types.Job {
	tb.Helper()
	j := &types.Job{
		JobID:           uuid.New(),
		UserID:          userID,
		Status:          status,
		Priority:        priority,
		Configuration:   datatypes.JSON([]byte("{}")),
		StagesCompleted: datatypes.JSON([]byte("[]")),
		Attempts:        datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

func SeedQueueEntry(tb testing.TB, ctx context.Context, tx *gorm.DB, jobID uuid.UUID, priority types.Priority, enqueuedAt time.Time) *types.QueueEntry {
	tb.Helper()
	q := &types.QueueEntry{
		JobID:      jobID,
		Priority:   priority,
		EnqueuedAt: enqueuedAt,
	}
	if err := tx.WithContext(ctx).Create(q).Error; err != nil {
		tb.Fatalf("seed queue entry: %v", err)
	}
	return q
}

func SeedProgressEvent(tb testing.TB, ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stage string, pct float64) *types.ProgressEvent {
	tb.Helper()
	e := &types.ProgressEvent{
		JobID:      jobID,
		Stage:      stage,
		Percentage: pct,
		Severity:   types.SeverityInfo,
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed progress event: %v", err)
	}
	return e
}

func SeedFileMetadata(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerUserID, jobID uuid.UUID, kind types.FileKind, logicalName string) *types.FileMetadata {
	tb.Helper()
	f := &types.FileMetadata{
		FileID:      uuid.New(),
		OwnerUserID: ownerUserID,
		JobID:       &jobID,
		Kind:        kind,
		LogicalName: logicalName,
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed file metadata: %v", err)
	}
	return f
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
