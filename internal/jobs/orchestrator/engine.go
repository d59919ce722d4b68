// Package orchestrator drives a job through its fixed stage pipeline.
//
// Unlike the teacher's orchestrator, which persisted a generic
// OrchestratorState/StageState JSON snapshot to support child-job fan-out
// across worker dispatches, this pipeline has no child jobs: every stage
// runs inline, in-process, under a bounded timeout. Resumability is carried
// entirely by columns already on domain.Job (StagesCompleted, Attempts,
// CurrentStage, Progress, Error) plus the queue's own visible_after gate
// (internal/data/repos/jobs.QueueRepo), so there is no separate snapshot
// blob to load or save. The inline timeout-via-goroutine-select pattern and
// the retry/backoff-then-yield control flow are kept from the teacher.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	jobrt "github.com/clipforge/clipforge-backend/internal/jobs/runtime"
	"github.com/clipforge/clipforge-backend/internal/retry"
)

// Stage is one step of the pipeline. Its progress range is derived from
// domain.StageCheckpoint/domain.CanonicalStages rather than hardcoded per
// caller, so adding a canonical stage never requires touching every site
// that builds a stage list.
type Stage struct {
	Name     types.Stage
	Timeout  time.Duration
	StartMsg string
	DoneMsg  string
	Run      func(ctx *jobrt.Context) (map[string]any, error)
}

// Outcome tells internal/jobs/worker what to do with the queue entry once
// Run returns: ack and drop it (Retry=false, the job already reached a
// terminal state), or nack it so it becomes visible again after Delay.
type Outcome struct {
	Retry bool
	Delay time.Duration
}

type Engine struct {
	Retry *retry.Registry
}

func NewEngine(retryRegistry *retry.Registry) *Engine {
	return &Engine{Retry: retryRegistry}
}

// Run executes every stage not already present in ctx.Job.StagesCompleted,
// in canonical order. A stage failure is routed through the retry
// registry: if the error kind is retryable and under budget, Run yields the
// job back to "queued" with an ErrorRecord recorded and tells the caller to
// nack with a backoff delay; otherwise the job is marked terminally failed
// and the caller should ack.
func (e *Engine) Run(ctx *jobrt.Context, stages []Stage) Outcome {
	if ctx == nil || ctx.Job == nil {
		return Outcome{}
	}
	if err := validateStages(stages); err != nil {
		ctx.Fail("validate", types.NewErrorRecord(types.ErrInternal, "validate", ctx.CorrelationID(), err.Error()))
		return Outcome{}
	}

	completed := map[types.Stage]bool{}
	for _, s := range ctx.Job.StagesCompletedSlice() {
		completed[s] = true
	}

	for _, def := range stages {
		if completed[def.Name] {
			continue
		}
		if ctx.IsCancelled() {
			// Cancel() already flipped the job row; nothing left to run.
			return Outcome{}
		}
		startPct, endPct := checkpointRange(def.Name)
		ctx.Progress(string(def.Name), startPct, msgOr(def.StartMsg, "Starting "+string(def.Name)))

		if _, err := e.runInline(ctx, def); err != nil {
			return e.handleStageErr(ctx, def, err)
		}

		completed[def.Name] = true
		ctx.MarkStageCompleted(def.Name, orderedCompleted(completed))
		ctx.Progress(string(def.Name), endPct, msgOr(def.DoneMsg, "Done "+string(def.Name)))
	}

	ctx.Succeed(string(types.StageCompleted))
	return Outcome{}
}

func (e *Engine) runInline(ctx *jobrt.Context, def Stage) (map[string]any, error) {
	if def.Run == nil {
		return nil, fmt.Errorf("stage %q: Run is nil", def.Name)
	}
	if def.Timeout <= 0 {
		return def.Run(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx.Ctx, def.Timeout)
	defer cancel()
	tmp := *ctx
	tmp.Ctx = tctx

	type out struct {
		m map[string]any
		e error
	}
	ch := make(chan out, 1)
	go func() {
		m, e := def.Run(&tmp)
		ch <- out{m: m, e: e}
	}()
	select {
	case <-tctx.Done():
		return nil, fmt.Errorf("stage %q timed out: %w", def.Name, tctx.Err())
	case o := <-ch:
		return o.m, o.e
	}
}

func (e *Engine) handleStageErr(ctx *jobrt.Context, def Stage, err error) Outcome {
	rec := asErrorRecord(err, string(def.Name), ctx.CorrelationID())

	attempts := ctx.Job.AttemptsMap()
	attempts[string(def.Name)]++
	n := attempts[string(def.Name)]

	var shouldRetry bool
	var delay time.Duration
	if e.Retry != nil {
		shouldRetry, delay = e.Retry.Decide(rec, n)
	}

	if shouldRetry {
		ctx.Yield(string(def.Name), rec, attempts)
		return Outcome{Retry: true, Delay: delay}
	}

	ctx.RecordAttempts(attempts)
	ctx.Fail(string(def.Name), rec)
	return Outcome{}
}

// asErrorRecord adapts a plain error (e.g. the timeout runInline wraps)
// into the structured ErrorRecord shape the retry registry and transport
// layer both require, without discarding an ErrorRecord a stage already
// produced by returning it directly.
func asErrorRecord(err error, stage string, correlationID uuid.UUID) *types.ErrorRecord {
	if err == nil {
		return nil
	}
	if rec, ok := err.(*types.ErrorRecord); ok {
		return rec
	}
	kind := types.ErrInternal
	if errors.Is(err, context.DeadlineExceeded) {
		kind = types.ErrTimeout
	}
	return types.NewErrorRecord(kind, stage, correlationID, err.Error())
}

func validateStages(stages []Stage) error {
	seen := map[types.Stage]bool{}
	for _, s := range stages {
		if s.Name == "" {
			return fmt.Errorf("stage missing Name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// checkpointRange returns the [start, end] progress percentage for a stage:
// its own checkpoint (the floor at entry) up to the checkpoint of the next
// stage in domain.CanonicalStages.
func checkpointRange(name types.Stage) (start, end float64) {
	start = float64(types.StageCheckpoint[name])
	for i, s := range types.CanonicalStages {
		if s == name && i+1 < len(types.CanonicalStages) {
			return start, float64(types.StageCheckpoint[types.CanonicalStages[i+1]])
		}
	}
	return start, start
}

// orderedCompleted returns the completed set as a canonical-order slice,
// the shape EncodeStages/StagesCompletedSlice expect.
func orderedCompleted(completed map[types.Stage]bool) []types.Stage {
	out := make([]types.Stage, 0, len(completed))
	for _, s := range types.CanonicalStages {
		if completed[s] {
			out = append(out, s)
		}
	}
	return out
}

func msgOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
