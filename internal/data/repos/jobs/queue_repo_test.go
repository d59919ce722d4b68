package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/clipforge/clipforge-backend/internal/data/repos/testutil"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
)

func TestQueueRepoDispatchOrder(t *testing.T) {
	db := testutil.DB(t)
	gtx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: gtx}

	repo := NewQueueRepo(db, testutil.Logger(t))
	user := testutil.SeedUser(t, dbc.Ctx, gtx, types.RoleUser)

	low := testutil.SeedJob(t, dbc.Ctx, gtx, user.UserID, types.JobQueued, types.PriorityLow)
	urgent := testutil.SeedJob(t, dbc.Ctx, gtx, user.UserID, types.JobQueued, types.PriorityUrgent)
	normalOlder := testutil.SeedJob(t, dbc.Ctx, gtx, user.UserID, types.JobQueued, types.PriorityNormal)
	normalNewer := testutil.SeedJob(t, dbc.Ctx, gtx, user.UserID, types.JobQueued, types.PriorityNormal)

	now := time.Now()
	if err := repo.Enqueue(dbc, low.JobID, types.PriorityLow); err != nil {
		t.Fatalf("enqueue low: %v", err)
	}
	if err := repo.Enqueue(dbc, normalOlder.JobID, types.PriorityNormal); err != nil {
		t.Fatalf("enqueue normalOlder: %v", err)
	}
	if err := repo.Enqueue(dbc, normalNewer.JobID, types.PriorityNormal); err != nil {
		t.Fatalf("enqueue normalNewer: %v", err)
	}
	if err := repo.Enqueue(dbc, urgent.JobID, types.PriorityUrgent); err != nil {
		t.Fatalf("enqueue urgent: %v", err)
	}
	_ = now

	// priority DESC, enqueued_at ASC: urgent first regardless of insertion order.
	e1, err := repo.Dequeue(dbc, "worker-1", time.Minute)
	if err != nil || e1 == nil || e1.JobID != urgent.JobID {
		t.Fatalf("Dequeue #1: err=%v got=%v want=%v", err, e1, urgent.JobID)
	}

	e2, err := repo.Dequeue(dbc, "worker-1", time.Minute)
	if err != nil || e2 == nil || e2.JobID != normalOlder.JobID {
		t.Fatalf("Dequeue #2: err=%v got=%v want=%v", err, e2, normalOlder.JobID)
	}

	// e2's lease is held; a concurrent dequeue skips it and the still-leased
	// urgent entry, landing on normalNewer, then low.
	e3, err := repo.Dequeue(dbc, "worker-2", time.Minute)
	if err != nil || e3 == nil || e3.JobID != normalNewer.JobID {
		t.Fatalf("Dequeue #3: err=%v got=%v want=%v", err, e3, normalNewer.JobID)
	}

	e4, err := repo.Dequeue(dbc, "worker-2", time.Minute)
	if err != nil || e4 == nil || e4.JobID != low.JobID {
		t.Fatalf("Dequeue #4: err=%v got=%v want=%v", err, e4, low.JobID)
	}

	e5, err := repo.Dequeue(dbc, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("Dequeue #5: %v", err)
	}
	if e5 != nil {
		t.Fatalf("Dequeue #5: expected nil, everything leased, got %v", e5)
	}

	if err := repo.Ack(dbc, urgent.JobID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	depth, err := repo.Depth(dbc)
	if err != nil || depth != 3 {
		t.Fatalf("Depth after Ack: err=%v depth=%d", err, depth)
	}

	attempts, err := repo.Nack(dbc, normalOlder.JobID, time.Now().Add(-time.Second))
	if err != nil || attempts != 1 {
		t.Fatalf("Nack: err=%v attempts=%d", err, attempts)
	}
	redrawn, err := repo.Dequeue(dbc, "worker-3", time.Minute)
	if err != nil || redrawn == nil || redrawn.JobID != normalOlder.JobID {
		t.Fatalf("Dequeue after Nack: err=%v got=%v", err, redrawn)
	}
}
