package stages

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	jobrt "github.com/clipforge/clipforge-backend/internal/jobs/runtime"
)

const dependencyLLMScene = "llm_scene"

// runScenarioBuilder expands every SceneDescriptor from the Planner's
// outline into an ImplementationPlan, fanning out across scenes up to
// config.max_scene_concurrency per spec §4.9/§5, the same
// errgroup.Group-with-SetLimit fan-out idiom the teacher uses for its own
// per-item parallel steps.
func (d *Deps) runScenarioBuilder(ctx *jobrt.Context) (map[string]any, error) {
	cfg, err := configFrom(ctx.Payload())
	if err != nil {
		return d.fail(ctx, types.ErrValidation, string(types.StageScenario), err.Error())
	}

	workDir := jobWorkDir(d.WorkRoot, ctx.Job.JobID)
	var outline SceneOutline
	if err := readJSON(outlinePath(workDir), &outline); err != nil {
		return d.fail(ctx, types.ErrInternal, string(types.StageScenario), "failed to load scene outline: "+err.Error())
	}

	plans := make([]ImplementationPlan, len(outline.Scenes))
	g, gctx := errgroup.WithContext(ctx.Ctx)
	g.SetLimit(cfg.MaxSceneConcurrency)

	var mu sync.Mutex
	for i, scene := range outline.Scenes {
		i, scene := i, scene
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			plan, rec := d.buildImplementationPlan(ctx, scene, cfg)
			if rec != nil {
				return rec
			}
			mu.Lock()
			plans[i] = *plan
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if rec, ok := err.(*types.ErrorRecord); ok {
			return nil, rec
		}
		return d.fail(ctx, types.ErrInternal, string(types.StageScenario), err.Error())
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].Index < plans[j].Index })
	if err := writeJSON(plansPath(workDir), plans); err != nil {
		return d.fail(ctx, types.ErrInternal, string(types.StageScenario), "failed to persist implementation plans: "+err.Error())
	}

	return map[string]any{"plan_count": len(plans)}, nil
}

func (d *Deps) buildImplementationPlan(ctx *jobrt.Context, scene SceneDescriptor, cfg Config) (*ImplementationPlan, *types.ErrorRecord) {
	release := acquire(ctx.Limits.LLM)
	defer release()

	system := "You expand a single scene outline entry into a shot list, required visual assets, and narration text for an educational animation."
	user := fmt.Sprintf("Scene %d: %q\nBeats: %v\n\nProduce a shot list (ordered camera/animation actions), an asset list, and narration text.", scene.Index, scene.Title, scene.Beats)

	raw, rec := d.LLM.GenerateJSON(ctx.Ctx, dependencyLLMScene, ctx.CorrelationID(), system, user, "implementation_plan", implementationPlanSchema)
	if rec != nil {
		rec.Stage = string(types.StageScenario)
		return nil, rec
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, types.NewErrorRecord(types.ErrValidation, string(types.StageScenario), ctx.CorrelationID(), "failed to re-encode model response: "+err.Error())
	}
	var plan ImplementationPlan
	if err := json.Unmarshal(encoded, &plan); err != nil {
		return nil, types.NewErrorRecord(types.ErrValidation, string(types.StageScenario), ctx.CorrelationID(), "failed to decode implementation plan: "+err.Error())
	}
	plan.Index = scene.Index
	plan.Title = scene.Title
	if len(plan.ShotList) == 0 || plan.Narration == "" {
		return nil, types.NewErrorRecord(types.ErrValidation, string(types.StageScenario), ctx.CorrelationID(), fmt.Sprintf("scene %d: implementation plan missing shot list or narration", scene.Index))
	}
	return &plan, nil
}
