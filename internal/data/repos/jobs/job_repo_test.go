package jobs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/clipforge/clipforge-backend/internal/data/repos/testutil"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
)

func TestJobRepo(t *testing.T) {
	db := testutil.DB(t)
	gtx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: gtx}

	repo := NewJobRepo(db, testutil.Logger(t))
	user := testutil.SeedUser(t, dbc.Ctx, gtx, types.RoleUser)

	key := "idem-1"
	job := &types.Job{
		JobID:           uuid.New(),
		UserID:          user.UserID,
		Priority:        types.PriorityNormal,
		Status:          types.JobQueued,
		Configuration:   datatypes.JSON([]byte("{}")),
		StagesCompleted: datatypes.JSON([]byte("[]")),
		Attempts:        datatypes.JSON([]byte("{}")),
		IdempotencyKey:  &key,
	}
	if err := repo.Create(dbc, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(dbc, job.JobID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: err=%v got=%v", err, got)
	}
	if got.Status != types.JobQueued {
		t.Fatalf("GetByID: expected status queued, got %v", got.Status)
	}

	byKey, err := repo.FindByIdempotencyKey(dbc, user.UserID, key)
	if err != nil || byKey == nil || byKey.JobID != job.JobID {
		t.Fatalf("FindByIdempotencyKey: err=%v got=%v", err, byKey)
	}

	if err := repo.UpdateFields(dbc, job.JobID, map[string]interface{}{"status": string(types.JobProcessing)}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	got, _ = repo.GetByID(dbc, job.JobID)
	if got.Status != types.JobProcessing {
		t.Fatalf("UpdateFields: expected processing, got %v", got.Status)
	}

	ok, err := repo.UpdateFieldsUnlessStatus(dbc, job.JobID, []types.JobStatus{types.JobCompleted, types.JobFailed, types.JobCancelled}, map[string]interface{}{"progress": 50.0})
	if err != nil || !ok {
		t.Fatalf("UpdateFieldsUnlessStatus: err=%v ok=%v", err, ok)
	}

	_ = repo.UpdateFields(dbc, job.JobID, map[string]interface{}{"status": string(types.JobCompleted)})
	ok, err = repo.UpdateFieldsUnlessStatus(dbc, job.JobID, []types.JobStatus{types.JobCompleted, types.JobFailed, types.JobCancelled}, map[string]interface{}{"progress": 99.0})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus (terminal): %v", err)
	}
	if ok {
		t.Fatalf("UpdateFieldsUnlessStatus (terminal): expected no-op, got applied")
	}

	list, err := repo.ListByUser(dbc, user.UserID, 10, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByUser: err=%v len=%d", err, len(list))
	}
}
