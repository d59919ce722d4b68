// Package stages implements the six StageExecutors spec §4.9 names:
// Planner, ScenarioBuilder, CodeGenerator, Renderer, Combiner, Uploader.
// Each is built as an orchestrator.Stage closing over Deps, grounded on the
// teacher's pattern of constructing its handler map from a single services
// struct (internal/app wiring one concrete implementation per interface).
package stages

import (
	"time"

	"github.com/clipforge/clipforge-backend/internal/breaker"
	jobsrepo "github.com/clipforge/clipforge-backend/internal/data/repos/jobs"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/jobs/orchestrator"
	jobrt "github.com/clipforge/clipforge-backend/internal/jobs/runtime"
	"github.com/clipforge/clipforge-backend/internal/llm"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
	"github.com/clipforge/clipforge-backend/internal/render"
	"github.com/clipforge/clipforge-backend/internal/storage"
)

// Deps bundles every external collaborator a StageExecutor needs. One Deps
// is constructed at startup and shared by every job; per-job state lives
// only in jobrt.Context and the job's work directory.
type Deps struct {
	LLM     *llm.Client
	Render  render.Runner
	// RenderBreaker gates every RenderScene call per spec §4.9's
	// "Uses CircuitBreaker(renderer)", independent of the per-job
	// Limits.Render concurrency semaphore.
	RenderBreaker *breaker.Breaker
	Storage *storage.Manager
	Files   jobsrepo.FileRepo
	Log     *logger.Logger

	// WorkRoot is the local filesystem root every job's scratch directory
	// nests under; shared with storage.LocalBackend's own root so Uploader
	// reads the same files the local backend would serve.
	WorkRoot string

	PresignTTL time.Duration
}

// BuildStages returns the fixed pipeline spec §4.9/§4.10 pins: one
// orchestrator.Stage per canonical stage except "completed", which the
// engine marks terminal itself once every stage here has run.
func BuildStages(d *Deps) []orchestrator.Stage {
	return []orchestrator.Stage{
		{
			Name:     types.StageInitializing,
			Timeout:  10 * time.Second,
			StartMsg: "Initializing job",
			DoneMsg:  "Initialized",
			Run:      d.runInitializing,
		},
		{
			Name:     types.StagePlanning,
			Timeout:  180 * time.Second,
			StartMsg: "Planning scene outline",
			DoneMsg:  "Scene outline ready",
			Run:      d.runPlanner,
		},
		{
			Name:     types.StageScenario,
			Timeout:  300 * time.Second,
			StartMsg: "Building scene scenarios",
			DoneMsg:  "Scenarios ready",
			Run:      d.runScenarioBuilder,
		},
		{
			Name:     types.StageCodeGen,
			Timeout:  600 * time.Second,
			StartMsg: "Generating scene code",
			DoneMsg:  "Scene code ready",
			Run:      d.runCodeGenerator,
		},
		{
			Name:     types.StageRendering,
			Timeout:  0, // dynamic: scene_count * render_timeout_per_scene, computed inside runRenderer
			StartMsg: "Rendering scenes",
			DoneMsg:  "Scenes rendered",
			Run:      d.runRenderer,
		},
		{
			Name:     types.StageCombining,
			Timeout:  300 * time.Second,
			StartMsg: "Combining scenes",
			DoneMsg:  "Combined video ready",
			Run:      d.runCombiner,
		},
		{
			Name:     types.StageStorage,
			Timeout:  600 * time.Second,
			StartMsg: "Uploading artifacts",
			DoneMsg:  "Artifacts uploaded",
			Run:      d.runUploader,
		},
	}
}

// acquire blocks on sem (a nil-safe counting semaphore per
// jobrt.Limits.Render/LLM) and returns the release function; a nil channel
// means unlimited, matching the same idiom jobrt.Limits documents.
func acquire(sem chan struct{}) func() {
	if sem == nil {
		return func() {}
	}
	sem <- struct{}{}
	return func() { <-sem }
}

func (d *Deps) fail(ctx *jobrt.Context, kind types.ErrorKind, stage, msg string) (map[string]any, error) {
	return nil, types.NewErrorRecord(kind, stage, ctx.CorrelationID(), msg)
}
