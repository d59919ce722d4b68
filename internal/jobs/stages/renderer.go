package stages

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	jobrt "github.com/clipforge/clipforge-backend/internal/jobs/runtime"
)

// runRenderer invokes the external renderer once per scene, gated by the
// worker-wide jobrt.Limits.Render semaphore (MAX_CONCURRENT_RENDERS) rather
// than config.max_scene_concurrency, per spec §4.9/§4.11. Because the
// stage's deadline depends on the scene count discovered at Planning time,
// Stage.Timeout is 0 for this entry in BuildStages and the deadline is
// computed and enforced here instead.
func (d *Deps) runRenderer(ctx *jobrt.Context) (map[string]any, error) {
	cfg, err := configFrom(ctx.Payload())
	if err != nil {
		return d.fail(ctx, types.ErrValidation, string(types.StageRendering), err.Error())
	}

	workDir := jobWorkDir(d.WorkRoot, ctx.Job.JobID)
	var plans []ImplementationPlan
	if err := readJSON(plansPath(workDir), &plans); err != nil {
		return d.fail(ctx, types.ErrInternal, string(types.StageRendering), "failed to load implementation plans: "+err.Error())
	}

	deadline := time.Duration(len(plans)) * cfg.RenderTimeoutPerScene
	if deadline <= 0 {
		deadline = cfg.RenderTimeoutPerScene
	}
	rctx, cancel := context.WithTimeout(ctx.Ctx, deadline)
	defer cancel()

	g, gctx := errgroup.WithContext(rctx)
	results := make([]renderResult, len(plans))
	var mu sync.Mutex

	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			release := acquire(ctx.Limits.Render)
			defer release()
			if gctx.Err() != nil {
				return gctx.Err()
			}

			programPath := sceneCodePath(workDir, plan.Index)
			outPath := sceneVideoPath(workDir, plan.Index)
			var durationSeconds float64
			rec := d.RenderBreaker.Call(string(types.StageRendering), ctx.CorrelationID(), func() error {
				var err error
				durationSeconds, err = d.Render.RenderScene(gctx, programPath, outPath, cfg.Quality)
				return err
			})
			if rec != nil {
				return rec
			}

			mu.Lock()
			results[i] = renderResult{Index: plan.Index, VideoPath: outPath, DurationSeconds: durationSeconds}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if rec, ok := err.(*types.ErrorRecord); ok {
			return nil, rec
		}
		if rctx.Err() == context.DeadlineExceeded {
			return d.fail(ctx, types.ErrTimeout, string(types.StageRendering), "rendering exceeded its scene-count-scaled deadline")
		}
		return d.fail(ctx, types.ErrInternal, string(types.StageRendering), err.Error())
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	if err := writeJSON(renderResultsPath(workDir), results); err != nil {
		return d.fail(ctx, types.ErrInternal, string(types.StageRendering), "failed to persist render results: "+err.Error())
	}

	return map[string]any{"scene_render_count": len(results)}, nil
}
