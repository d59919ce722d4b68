package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	jobrt "github.com/clipforge/clipforge-backend/internal/jobs/runtime"
)

const dependencyLLMHelper = "llm_helper"

// RAGIndex is the external knowledge-index interface spec §4.9 names for
// CodeGenerator's use_rag path: "query(text, k) -> snippets". Nothing in
// this package holds or calls a RAGIndex (Deps has no index field), so
// config.use_rag adds no snippets to the prompt.
type RAGIndex interface {
	Query(ctx context.Context, text string, k int) ([]string, error)
}

// runCodeGenerator produces one animation program per scene via llm_scene,
// fanned out the same way runScenarioBuilder is, with a syntactic
// validation pass and a single llm_helper repair round per spec §4.9.
func (d *Deps) runCodeGenerator(ctx *jobrt.Context) (map[string]any, error) {
	cfg, err := configFrom(ctx.Payload())
	if err != nil {
		return d.fail(ctx, types.ErrValidation, string(types.StageCodeGen), err.Error())
	}

	workDir := jobWorkDir(d.WorkRoot, ctx.Job.JobID)
	var plans []ImplementationPlan
	if err := readJSON(plansPath(workDir), &plans); err != nil {
		return d.fail(ctx, types.ErrInternal, string(types.StageCodeGen), "failed to load implementation plans: "+err.Error())
	}

	g, gctx := errgroup.WithContext(ctx.Ctx)
	g.SetLimit(cfg.MaxSceneConcurrency)
	var mu sync.Mutex
	paths := make([]string, len(plans))

	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			code, rec := d.generateSceneCode(ctx, plan, cfg)
			if rec != nil {
				return rec
			}
			path := sceneCodePath(workDir, plan.Index)
			if err := writeTextFile(path, code); err != nil {
				return types.NewErrorRecord(types.ErrInternal, string(types.StageCodeGen), ctx.CorrelationID(), "failed to persist scene code: "+err.Error())
			}
			mu.Lock()
			paths[i] = path
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if rec, ok := err.(*types.ErrorRecord); ok {
			return nil, rec
		}
		return d.fail(ctx, types.ErrInternal, string(types.StageCodeGen), err.Error())
	}

	return map[string]any{"scene_code_count": len(paths)}, nil
}

func (d *Deps) generateSceneCode(ctx *jobrt.Context, plan ImplementationPlan, cfg Config) (string, *types.ErrorRecord) {
	system := "You generate a self-contained animation program for one educational video scene, matching the renderer's expected source format. Respond only with the requested JSON structure."
	user := buildCodeGenPrompt(ctx, plan, cfg)

	code, rec := d.requestSceneCode(ctx, dependencyLLMScene, system, user)
	if rec != nil {
		return "", rec
	}
	if err := validateSceneProgram(code); err == nil {
		return code, nil
	} else {
		repairUser := fmt.Sprintf("%s\n\nThe previously generated program is invalid: %s.\nPrevious program:\n%s\n\nReturn a corrected program.", user, err.Error(), code)
		code, rec = d.requestSceneCode(ctx, dependencyLLMHelper, system, repairUser)
		if rec != nil {
			return "", rec
		}
		if err := validateSceneProgram(code); err != nil {
			return "", types.NewErrorRecord(types.ErrValidation, string(types.StageCodeGen), ctx.CorrelationID(), fmt.Sprintf("scene %d: program invalid after repair round: %s", plan.Index, err.Error()))
		}
		return code, nil
	}
}

func buildCodeGenPrompt(ctx *jobrt.Context, plan ImplementationPlan, cfg Config) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scene %d: %q\nShot list: %v\nAssets: %v\nNarration: %s\n", plan.Index, plan.Title, plan.ShotList, plan.Assets, plan.Narration)
	if cfg.UseRAG {
		snippets := queryRAGSnippets(ctx, plan)
		if len(snippets) > 0 {
			sb.WriteString("\nRelevant reference snippets:\n")
			for _, s := range snippets {
				sb.WriteString("- ")
				sb.WriteString(s)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func (d *Deps) requestSceneCode(ctx *jobrt.Context, dependency, system, user string) (string, *types.ErrorRecord) {
	release := acquire(ctx.Limits.LLM)
	defer release()

	raw, rec := d.LLM.GenerateJSON(ctx.Ctx, dependency, ctx.CorrelationID(), system, user, "scene_program", sceneProgramSchema)
	if rec != nil {
		rec.Stage = string(types.StageCodeGen)
		return "", rec
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return "", types.NewErrorRecord(types.ErrValidation, string(types.StageCodeGen), ctx.CorrelationID(), "failed to re-encode model response: "+err.Error())
	}
	var out struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return "", types.NewErrorRecord(types.ErrValidation, string(types.StageCodeGen), ctx.CorrelationID(), "failed to decode scene program: "+err.Error())
	}
	return out.Code, nil
}

// validateSceneProgram is the "deterministic post-check" spec §4.9
// requires before accepting a generated program: non-empty and balanced
// brackets/parens/braces/quotes, a cheap syntactic sanity check that
// catches truncated or clearly malformed model output without needing to
// invoke the target language's own parser.
func validateSceneProgram(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("program is empty")
	}
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var stack []rune
	inString := rune(0)
	for _, r := range code {
		if inString != 0 {
			if r == inString {
				inString = 0
			}
			continue
		}
		switch r {
		case '\'', '"':
			inString = r
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return fmt.Errorf("unbalanced %q", r)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 0 {
		return fmt.Errorf("unclosed bracket(s)")
	}
	return nil
}

// queryRAGSnippets always returns no snippets: Deps carries no RAGIndex,
// so no retrieval happens whatever config.use_rag says.
func queryRAGSnippets(ctx *jobrt.Context, plan ImplementationPlan) []string {
	return nil
}

func writeTextFile(path string, content string) error {
	return writeBytes(path, []byte(content))
}
