package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	jobsrepo "github.com/clipforge/clipforge-backend/internal/data/repos/jobs"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

// CoalesceWindow is the minimum gap between two persisted ProgressEvent
// rows for the same (job_id, stage) pair. A stage emitting fine-grained
// scene-by-scene progress would otherwise write one row per scene; instead
// a write arriving within the window of the last persisted row is broadcast
// but not persisted, and does not move the in-memory last-sent record. The
// first write after the window has elapsed is persisted. Nothing flushes a
// dropped write later, so a stage's last update is not persisted when it
// lands inside the window.
const CoalesceWindow = 250 * time.Millisecond

// Reporter implements internal/jobs/runtime.ProgressReporter: it persists
// an append-only ProgressEvent ledger via ProgressRepo and fans every
// update out to SSE subscribers via Hub.
type Reporter struct {
	repo jobsrepo.ProgressRepo
	hub  *Hub
	log  *logger.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewReporter(repo jobsrepo.ProgressRepo, hub *Hub, baseLog *logger.Logger) *Reporter {
	return &Reporter{
		repo:     repo,
		hub:      hub,
		log:      baseLog.With("component", "ProgressReporter"),
		lastSent: map[string]time.Time{},
	}
}

// Report persists a ProgressEvent row (subject to coalescing) and always
// broadcasts the latest value to subscribers, since SSE clients should see
// every update even when the durable ledger drops intermediate ones.
func (r *Reporter) Report(jobID uuid.UUID, stage string, pct float64, msg string, severity types.Severity) {
	now := time.Now()
	msgOut := Message{JobID: jobID, Stage: stage, Percentage: pct, Message: msg, Severity: severity, TS: now}
	if r.hub != nil {
		r.hub.Broadcast(msgOut)
	}

	key := jobID.String() + "|" + stage
	r.mu.Lock()
	last, seen := r.lastSent[key]
	coalesced := seen && now.Sub(last) < CoalesceWindow
	if !coalesced {
		r.lastSent[key] = now
	}
	r.mu.Unlock()
	if coalesced {
		return
	}

	if r.repo == nil {
		return
	}
	ev := &types.ProgressEvent{
		JobID:      jobID,
		TS:         now,
		Stage:      stage,
		Percentage: pct,
		Message:    msg,
		Severity:   severity,
	}
	dbc := dbctx.Context{Ctx: context.Background()}
	if err := r.repo.Append(dbc, ev); err != nil {
		r.log.Warn("failed to persist progress event", "job_id", jobID, "stage", stage, "error", err)
	}
}
