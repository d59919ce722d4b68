package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	jobsrepo "github.com/clipforge/clipforge-backend/internal/data/repos/jobs"
	"github.com/clipforge/clipforge-backend/internal/platform/clock"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
)

// ProgressReporter is the side-channel a Context notifies on every progress/
// failure transition. The concrete implementation (internal/progress.Reporter)
// persists a ProgressEvent row and fans the update out over SSE; Context
// itself only owns the Job row.
type ProgressReporter interface {
	Report(jobID uuid.UUID, stage string, pct float64, msg string, severity types.Severity)
}

// Limits gates stage concurrency against external dependencies that must
// not be overwhelmed regardless of how many workers are running (a render
// farm's encoder slots, an LLM provider's rate limit). Nil channels mean
// unlimited; a stage acquires before doing the gated work and releases via
// defer, the same buffered-channel-as-semaphore idiom used for WORKER_
// CONCURRENCY-style knobs throughout the stack.
type Limits struct {
	Render chan struct{}
	LLM    chan struct{}
}

// Context is the capability-scoped execution handle for a single job run,
// the same role the teacher's runtime.Context plays: pipelines never touch
// the job row or the queue directly, only through these methods.
type Context struct {
	Ctx           context.Context
	DB            *gorm.DB
	Job           *types.Job
	Jobs          jobsrepo.JobRepo
	Reporter      ProgressReporter
	Limits        Limits
	clock         clock.Clock
	correlationID uuid.UUID
	payload       map[string]any
}

// NewContext constructs a runtime.Context for a claimed job execution,
// eagerly decoding Job.Configuration so stages can read inputs via
// Payload()/PayloadUUID(). Time and the correlation ID are drawn from
// clock.SystemClock() by default; tests that need determinism can replace
// it with WithClock.
func NewContext(ctx context.Context, db *gorm.DB, job *types.Job, jobs jobsrepo.JobRepo, reporter ProgressReporter, limits Limits) *Context {
	c := &Context{
		Ctx:      ctx,
		DB:       db,
		Job:      job,
		Jobs:     jobs,
		Reporter: reporter,
		Limits:   limits,
		clock:    clock.SystemClock(),
	}
	c.correlationID = c.clock.NewID()
	_ = c.decodePayload()
	return c
}

// WithClock replaces the Context's clock, for tests that need deterministic
// timestamps or correlation IDs. Returns c for chaining at construction.
func (c *Context) WithClock(cl clock.Clock) *Context {
	c.clock = cl
	c.correlationID = cl.NewID()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil {
		return nil
	}
	if len(c.Job.Configuration) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Configuration, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload returns the decoded job configuration. Never nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadUUID reads a payload field by key and parses it as a UUID.
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// CorrelationID is a per-execution identifier attached to every ErrorRecord
// this job produces, so a single failure can be traced across retries and
// external-dependency calls within one run.
func (c *Context) CorrelationID() uuid.UUID { return c.correlationID }

// IsCancelled reports whether Ctx has been cancelled — true once
// internal/jobs/worker has torn down this run's context in response to
// submission.Service.Cancel. Stages that loop over several scenes without
// otherwise blocking on a context-bound call (HTTP request, exec.Cmd)
// should check this between iterations so a cancellation is not only
// caught by the next external call's own context check.
func (c *Context) IsCancelled() bool {
	return c.ctxOrBackground().Err() != nil
}

// terminalStatuses guards every write below: a job a client has already
// cancelled, or that has already reached a terminal state, is never
// overwritten by a late-arriving worker update.
var terminalStatuses = []types.JobStatus{types.JobCancelled, types.JobFailed, types.JobCompleted}

// Update applies arbitrary field updates to the job row, guarded against
// overwriting a terminal or cancelled job. Intended for rare custom writes;
// prefer Progress/Fail/Succeed/Yield for lifecycle transitions.
func (c *Context) Update(updates map[string]interface{}) error {
	if c.Job == nil || c.Job.JobID == uuid.Nil {
		return nil
	}
	_, err := c.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.ctxOrBackground()}, c.Job.JobID, terminalStatuses, updates)
	return err
}

func (c *Context) ctxOrBackground() context.Context {
	if c.Ctx != nil {
		return c.Ctx
	}
	return context.Background()
}

// Progress publishes a non-terminal status update: persists stage/progress
// into the job row (monotonic - never moves backwards) and notifies the
// reporter so clients see it promptly.
func (c *Context) Progress(stage string, pct float64, msg string) {
	if c == nil || c.Job == nil {
		return
	}
	if pct < c.Job.Progress {
		pct = c.Job.Progress
	}
	now := c.clock.Now()
	updates := map[string]interface{}{
		"current_stage": stage,
		"progress":      pct,
		"updated_at":    now,
	}
	if c.Job.StartedAt == nil {
		updates["started_at"] = now
	}

	ok, _ := c.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.ctxOrBackground()}, c.Job.JobID, terminalStatuses, updates)
	if !ok {
		return
	}

	c.Job.CurrentStage = &stage
	c.Job.Progress = pct
	c.Job.UpdatedAt = now
	if c.Job.StartedAt == nil {
		c.Job.StartedAt = &now
	}

	if c.Reporter != nil {
		c.Reporter.Report(c.Job.JobID, stage, pct, msg, types.SeverityInfo)
	}
}

// RecordAttempts persists the per-stage attempt counters without otherwise
// changing job status; called before a terminal Fail so the final attempt
// count survives in storage.
func (c *Context) RecordAttempts(attempts map[string]int) {
	if c == nil || c.Job == nil {
		return
	}
	enc := types.EncodeAttempts(attempts)
	_ = c.Update(map[string]interface{}{"attempts": enc})
	c.Job.Attempts = enc
}

// MarkStageCompleted persists the growing StagesCompleted prefix once a
// stage finishes successfully.
func (c *Context) MarkStageCompleted(stage types.Stage, completed []types.Stage) {
	if c == nil || c.Job == nil {
		return
	}
	enc := types.EncodeStages(completed)
	_ = c.Update(map[string]interface{}{"stages_completed": enc})
	c.Job.StagesCompleted = enc
}

// Yield records a retryable stage failure and returns the job to "queued"
// so the worker can nack the queue entry with a backoff delay; the queue's
// own visible_after gate governs when the job is dequeued again, replacing
// the teacher's in-process wait-then-sleep loop.
func (c *Context) Yield(stage string, rec *types.ErrorRecord, attempts map[string]int) {
	if c == nil || c.Job == nil {
		return
	}
	now := c.clock.Now()
	errJSON, _ := json.Marshal(rec)
	updates := map[string]interface{}{
		"status":         types.JobQueued,
		"current_stage":  stage,
		"error":          datatypes.JSON(errJSON),
		"attempts":       types.EncodeAttempts(attempts),
		"updated_at":     now,
	}
	ok, _ := c.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.ctxOrBackground()}, c.Job.JobID, terminalStatuses, updates)
	if !ok {
		return
	}
	c.Job.Status = types.JobQueued
	c.Job.CurrentStage = &stage
	c.Job.Error = datatypes.JSON(errJSON)
	c.Job.Attempts = types.EncodeAttempts(attempts)
	c.Job.UpdatedAt = now

	if c.Reporter != nil {
		msg := ""
		if rec != nil {
			msg = rec.Message
		}
		c.Reporter.Report(c.Job.JobID, stage, c.Job.Progress, msg, types.SeverityWarning)
	}
}

// Fail marks the job terminally failed and records the structured error.
func (c *Context) Fail(stage string, rec *types.ErrorRecord) {
	if c == nil || c.Job == nil {
		return
	}
	now := c.clock.Now()
	errJSON, _ := json.Marshal(rec)
	updates := map[string]interface{}{
		"status":        types.JobFailed,
		"current_stage": stage,
		"error":         datatypes.JSON(errJSON),
		"completed_at":  now,
		"updated_at":    now,
	}
	ok, _ := c.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.ctxOrBackground()}, c.Job.JobID, terminalStatuses, updates)
	if !ok {
		return
	}
	c.Job.Status = types.JobFailed
	c.Job.CurrentStage = &stage
	c.Job.Error = datatypes.JSON(errJSON)
	c.Job.CompletedAt = &now
	c.Job.UpdatedAt = now

	if c.Reporter != nil {
		msg := ""
		if rec != nil {
			msg = rec.Message
		}
		c.Reporter.Report(c.Job.JobID, stage, c.Job.Progress, msg, types.SeverityError)
	}
}

// Succeed marks the job terminally completed at 100% progress.
func (c *Context) Succeed(finalStage string) {
	if c == nil || c.Job == nil {
		return
	}
	now := c.clock.Now()
	updates := map[string]interface{}{
		"status":        types.JobCompleted,
		"current_stage": finalStage,
		"progress":      float64(100),
		"error":         datatypes.JSON(nil),
		"completed_at":  now,
		"updated_at":    now,
	}
	ok, _ := c.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.ctxOrBackground()}, c.Job.JobID, terminalStatuses, updates)
	if !ok {
		return
	}
	c.Job.Status = types.JobCompleted
	c.Job.CurrentStage = &finalStage
	c.Job.Progress = 100
	c.Job.Error = nil
	c.Job.CompletedAt = &now
	c.Job.UpdatedAt = now

	if c.Reporter != nil {
		c.Reporter.Report(c.Job.JobID, finalStage, 100, "done", types.SeverityInfo)
	}
}
