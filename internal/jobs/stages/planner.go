package stages

import (
	"encoding/json"
	"fmt"
	"sort"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	jobrt "github.com/clipforge/clipforge-backend/internal/jobs/runtime"
)

const dependencyLLMPlanner = "llm_planner"

// runPlanner is the Planner StageExecutor: one llm_planner call producing a
// SceneOutline, with a single repair attempt if the response parses as JSON
// but fails the structural/count checks spec §4.9 requires.
func (d *Deps) runPlanner(ctx *jobrt.Context) (map[string]any, error) {
	cfg, err := configFrom(ctx.Payload())
	if err != nil {
		return d.fail(ctx, types.ErrValidation, string(types.StagePlanning), err.Error())
	}

	release := acquire(ctx.Limits.LLM)
	defer release()

	system := "You are a video production planner. Break the given topic into an ordered list of short educational scenes. Respond only with the requested JSON structure."
	user := fmt.Sprintf("Topic: %s\n\nContext: %s\n\nProduce between 1 and %d scenes, each with a concise title and 2-5 narration beats.", cfg.Topic, cfg.Context, cfg.MaxScenes)

	outline, rec := d.requestSceneOutline(ctx, system, user)
	if rec != nil {
		return nil, rec
	}

	if verr := validateOutline(outline, cfg.MaxScenes); verr != nil {
		repairUser := fmt.Sprintf("%s\n\nYour previous response was invalid: %s. Return corrected JSON only.", user, verr.Error())
		outline, rec = d.requestSceneOutline(ctx, system, repairUser)
		if rec != nil {
			return nil, rec
		}
		if verr := validateOutline(outline, cfg.MaxScenes); verr != nil {
			return d.fail(ctx, types.ErrValidation, string(types.StagePlanning), "scene outline invalid after repair attempt: "+verr.Error())
		}
	}

	workDir := jobWorkDir(d.WorkRoot, ctx.Job.JobID)
	if err := writeJSON(outlinePath(workDir), outline); err != nil {
		return d.fail(ctx, types.ErrInternal, string(types.StagePlanning), "failed to persist scene outline: "+err.Error())
	}

	return map[string]any{"scene_count": len(outline.Scenes)}, nil
}

func (d *Deps) requestSceneOutline(ctx *jobrt.Context, system, user string) (*SceneOutline, *types.ErrorRecord) {
	raw, rec := d.LLM.GenerateJSON(ctx.Ctx, dependencyLLMPlanner, ctx.CorrelationID(), system, user, "scene_outline", sceneOutlineSchema)
	if rec != nil {
		return nil, rec
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, types.NewErrorRecord(types.ErrValidation, string(types.StagePlanning), ctx.CorrelationID(), "failed to re-encode model response: "+err.Error())
	}
	var outline SceneOutline
	if err := json.Unmarshal(encoded, &outline); err != nil {
		return nil, types.NewErrorRecord(types.ErrValidation, string(types.StagePlanning), ctx.CorrelationID(), "failed to decode scene outline: "+err.Error())
	}
	return &outline, nil
}

func validateOutline(outline *SceneOutline, maxScenes int) error {
	if outline == nil || len(outline.Scenes) == 0 {
		return fmt.Errorf("scene outline must contain at least one scene")
	}
	if len(outline.Scenes) > maxScenes {
		return fmt.Errorf("scene outline contains %d scenes, exceeding max_scenes=%d", len(outline.Scenes), maxScenes)
	}
	indices := make([]int, 0, len(outline.Scenes))
	seen := map[int]bool{}
	for _, s := range outline.Scenes {
		if s.Title == "" {
			return fmt.Errorf("scene %d missing title", s.Index)
		}
		if len(s.Beats) == 0 {
			return fmt.Errorf("scene %d missing beats", s.Index)
		}
		if seen[s.Index] {
			return fmt.Errorf("duplicate scene index %d", s.Index)
		}
		seen[s.Index] = true
		indices = append(indices, s.Index)
	}
	sort.Ints(indices)
	for i, idx := range indices {
		if idx != i {
			return fmt.Errorf("scene indices must be a contiguous 0-based sequence, got %v", indices)
		}
	}
	return nil
}
