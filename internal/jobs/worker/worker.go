// Package worker is the execution engine for the Postgres-backed job queue.
//
// Grounded on the teacher's internal/jobs/worker/worker.go: a fixed
// goroutine pool, a polling runLoop per goroutine, a heartbeat goroutine
// per claimed job, and panic recovery around handler execution. The
// teacher dispatched by job_type through a runtime.Registry; this domain
// has exactly one job kind (a text-to-video generation pipeline), so the
// worker runs the orchestrator directly against a fixed stage list instead
// of looking up a handler.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	jobsrepo "github.com/clipforge/clipforge-backend/internal/data/repos/jobs"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/jobs/cancelregistry"
	"github.com/clipforge/clipforge-backend/internal/jobs/orchestrator"
	"github.com/clipforge/clipforge-backend/internal/jobs/runtime"
	"github.com/clipforge/clipforge-backend/internal/platform/clock"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
	"github.com/clipforge/clipforge-backend/internal/platform/envutil"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

// Config holds the worker-pool knobs, all overridable via env vars per
// spec §6.3.
type Config struct {
	Concurrency           int
	LeaseTTL              time.Duration
	RenewEvery            time.Duration
	PollInterval          time.Duration
	RenderConcurrency     int
	LLMConcurrency        int
	DeadLetterMaxAttempts int
}

func ConfigFromEnv() Config {
	return Config{
		Concurrency:           envutil.Int("WORKER_CONCURRENCY", 4),
		LeaseTTL:              envutil.DurationMillis("WORKER_LEASE_TTL_MS", 2*time.Minute),
		RenewEvery:            envutil.DurationMillis("WORKER_LEASE_RENEW_MS", 30*time.Second),
		PollInterval:          envutil.DurationMillis("WORKER_POLL_INTERVAL_MS", time.Second),
		RenderConcurrency:     envutil.Int("MAX_CONCURRENT_RENDERS", 2),
		LLMConcurrency:        envutil.Int("LLM_CONCURRENCY", 4),
		DeadLetterMaxAttempts: envutil.Int("DEAD_LETTER_MAX_ATTEMPTS", 5),
	}
}

// Worker claims jobs off the durable queue and drives them through the
// orchestrator's fixed stage pipeline.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	jobs     jobsrepo.JobRepo
	queue    jobsrepo.QueueRepo
	reporter runtime.ProgressReporter
	engine   *orchestrator.Engine
	stages   []orchestrator.Stage
	cfg      Config
	limits   runtime.Limits
	clock    clock.Clock
	cancels  *cancelregistry.Registry
	id       string
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, jobs jobsrepo.JobRepo, queue jobsrepo.QueueRepo, reporter runtime.ProgressReporter, engine *orchestrator.Engine, stages []orchestrator.Stage, cfg Config) *Worker {
	limits := runtime.Limits{}
	if cfg.RenderConcurrency > 0 {
		limits.Render = make(chan struct{}, cfg.RenderConcurrency)
	}
	if cfg.LLMConcurrency > 0 {
		limits.LLM = make(chan struct{}, cfg.LLMConcurrency)
	}
	c := clock.SystemClock()
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		jobs:     jobs,
		queue:    queue,
		reporter: reporter,
		engine:   engine,
		stages:   stages,
		cfg:      cfg,
		limits:   limits,
		clock:    c,
		cancels:  cancelregistry.New(),
		id:       c.NewID().String(),
	}
}

// WithClock replaces the worker's clock, for tests that need deterministic
// lease-owner timestamps or backoff deadlines.
func (w *Worker) WithClock(c clock.Clock) *Worker {
	w.clock = c
	return w
}

// WithCancelRegistry replaces the worker's cancel registry, so
// submission.Service can share the same instance and reach a job this
// worker is currently running. Defaults to a private registry so existing
// tests and call sites that never share one keep working unchanged.
func (w *Worker) WithCancelRegistry(r *cancelregistry.Registry) *Worker {
	w.cancels = r
	return w
}

// Cancels exposes the worker's cancel registry so internal/app can share a
// single instance between the worker and submission.Service.
func (w *Worker) Cancels() *cancelregistry.Registry {
	return w.cancels
}

// Start launches cfg.Concurrency polling goroutines; each runs
// independently until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	n := w.cfg.Concurrency
	if n < 1 {
		n = 1
	}
	w.log.Info("starting job worker pool", "concurrency", n)
	for i := 0; i < n; i++ {
		go w.runLoop(ctx, i+1)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerNum int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	leaseOwner := w.leaseOwner(workerNum)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker loop stopped", "worker", leaseOwner)
			return
		case <-ticker.C:
			w.tick(ctx, leaseOwner)
		}
	}
}

func (w *Worker) leaseOwner(workerNum int) string {
	return w.id + "-" + w.clock.Now().Format("150405") + "-" + strconv.Itoa(workerNum)
}

func (w *Worker) tick(ctx context.Context, leaseOwner string) {
	dbc := dbctx.Context{Ctx: ctx}
	entry, err := w.queue.Dequeue(dbc, leaseOwner, w.cfg.LeaseTTL)
	if err != nil {
		w.log.Warn("dequeue failed", "error", err)
		return
	}
	if entry == nil {
		return
	}

	job, err := w.jobs.GetByID(dbc, entry.JobID)
	if err != nil || job == nil {
		w.log.Warn("failed to load dequeued job", "job_id", entry.JobID, "error", err)
		return
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	w.cancels.Register(entry.JobID, cancelRun)
	defer func() {
		w.cancels.Unregister(entry.JobID)
		cancelRun()
	}()

	jc := runtime.NewContext(runCtx, w.db, job, w.jobs, w.reporter, w.limits).WithClock(w.clock)
	if job.Status != types.JobProcessing {
		_ = jc.Update(map[string]interface{}{"status": types.JobProcessing})
		job.Status = types.JobProcessing
	}

	stopRenew := w.startLeaseRenewal(ctx, entry.JobID, leaseOwner)
	outcome := w.runSafely(jc)
	stopRenew()

	// Distinguish an explicit per-job Cancel() (runCtx cancelled, but the
	// worker pool's own ctx is still live) from a pool-wide shutdown (ctx
	// itself done, which also cancels runCtx as its child): only the
	// former means the job row was already flipped to cancelled and the
	// queue entry should simply be dropped. A shutdown falls through to
	// the ordinary retry/ack handling below, leaving the entry for
	// lease-expiry requeue like before this registry existed.
	if runCtx.Err() != nil && ctx.Err() == nil {
		if err := w.queue.Ack(dbc, entry.JobID); err != nil {
			w.log.Warn("ack failed after cancellation", "job_id", entry.JobID, "error", err)
		}
		return
	}

	if outcome.Retry {
		visibleAfter := w.clock.Now().Add(outcome.Delay)
		attempts, err := w.queue.Nack(dbc, entry.JobID, visibleAfter)
		if err != nil {
			w.log.Warn("nack failed", "job_id", entry.JobID, "error", err)
			return
		}
		if w.cfg.DeadLetterMaxAttempts > 0 && attempts > w.cfg.DeadLetterMaxAttempts {
			w.deadLetter(dbc, jc, entry.JobID, attempts)
		}
		return
	}
	if err := w.queue.Ack(dbc, entry.JobID); err != nil {
		w.log.Warn("ack failed", "job_id", entry.JobID, "error", err)
	}
}

// deadLetter removes a queue entry that has exceeded DEAD_LETTER_MAX_ATTEMPTS
// from active dispatch and marks its job terminally failed with
// kind=internal, per the queue's dead-letter invariant.
func (w *Worker) deadLetter(dbc dbctx.Context, jc *runtime.Context, jobID uuid.UUID, attempts int) {
	if err := w.queue.DeadLetter(dbc, jobID); err != nil {
		w.log.Warn("dead-letter transition failed", "job_id", jobID, "error", err)
		return
	}
	stage := ""
	if jc.Job.CurrentStage != nil {
		stage = *jc.Job.CurrentStage
	}
	jc.Fail(stage, types.NewErrorRecord(types.ErrInternal, stage, jc.CorrelationID(),
		fmt.Sprintf("exceeded max dispatch attempts (%d > %d)", attempts, w.cfg.DeadLetterMaxAttempts)))
	w.log.Error("job dead-lettered after exceeding max dispatch attempts", "job_id", jobID, "attempts", attempts)
}

func (w *Worker) runSafely(jc *runtime.Context) (outcome orchestrator.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job handler panic", "job_id", jc.Job.JobID, "panic", r)
			jc.Fail("panic", types.NewErrorRecord(types.ErrInternal, "panic", jc.CorrelationID(), "unexpected panic during stage execution"))
			outcome = orchestrator.Outcome{}
		}
	}()
	return w.engine.Run(jc, w.stages)
}

// startLeaseRenewal periodically extends the queue lease for a long-running
// job so it is not reclaimed by another worker mid-execution. Returns a
// stop function that must be called once the job finishes.
func (w *Worker) startLeaseRenewal(ctx context.Context, jobID uuid.UUID, leaseOwner string) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(w.cfg.RenewEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				dbc := dbctx.Context{Ctx: ctx}
				if _, err := w.queue.Renew(dbc, jobID, leaseOwner, w.cfg.LeaseTTL); err != nil {
					w.log.Warn("lease renewal failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}
