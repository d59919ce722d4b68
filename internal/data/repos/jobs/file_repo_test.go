package jobs

import (
	"context"
	"testing"

	"github.com/clipforge/clipforge-backend/internal/data/repos/testutil"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
)

func TestFileRepoIdempotentLookup(t *testing.T) {
	db := testutil.DB(t)
	gtx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: gtx}

	repo := NewFileRepo(db, testutil.Logger(t))
	user := testutil.SeedUser(t, dbc.Ctx, gtx, types.RoleUser)
	job := testutil.SeedJob(t, dbc.Ctx, gtx, user.UserID, types.JobProcessing, types.PriorityNormal)

	miss, err := repo.FindByLogicalName(dbc, job.JobID, types.FileSceneVideo, "scene_000/output.mp4")
	if err != nil {
		t.Fatalf("FindByLogicalName (miss): %v", err)
	}
	if miss != nil {
		t.Fatalf("FindByLogicalName (miss): expected nil, got %v", miss)
	}

	seeded := testutil.SeedFileMetadata(t, dbc.Ctx, gtx, user.UserID, job.JobID, types.FileSceneVideo, "scene_000/output.mp4")

	hit, err := repo.FindByLogicalName(dbc, job.JobID, types.FileSceneVideo, "scene_000/output.mp4")
	if err != nil || hit == nil || hit.FileID != seeded.FileID {
		t.Fatalf("FindByLogicalName (hit): err=%v got=%v", err, hit)
	}

	list, err := repo.ListByJob(dbc, job.JobID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByJob: err=%v len=%d", err, len(list))
	}
}
