package stages

import (
	"testing"

	types "github.com/clipforge/clipforge-backend/internal/domain"
)

func TestValidateSceneProgramRejectsEmpty(t *testing.T) {
	if err := validateSceneProgram("   "); err == nil {
		t.Fatalf("expected an error for an empty program")
	}
}

func TestValidateSceneProgramRejectsUnbalancedBrackets(t *testing.T) {
	if err := validateSceneProgram("def f():\n    return (1 + 2"); err == nil {
		t.Fatalf("expected an error for an unclosed paren")
	}
	if err := validateSceneProgram("x = [1, 2))"); err == nil {
		t.Fatalf("expected an error for a mismatched closing bracket")
	}
}

func TestValidateSceneProgramIgnoresBracketsInsideStrings(t *testing.T) {
	if err := validateSceneProgram(`title = "(unbalanced"` + "\n" + `body = 'also ) unbalanced'`); err != nil {
		t.Fatalf("brackets inside string literals should not affect balance checking: %v", err)
	}
}

func TestValidateSceneProgramAcceptsBalancedProgram(t *testing.T) {
	if err := validateSceneProgram(`def render(scene):\n    return [f(x) for x in {1: "a"}]`); err != nil {
		t.Fatalf("validateSceneProgram: %v", err)
	}
}

func codeResponse(code string) map[string]any {
	return map[string]any{"code": code}
}

func TestRunCodeGeneratorHappyPath(t *testing.T) {
	d := newTestDeps(t, &fakeOpenAI{jsonResponses: []map[string]any{
		codeResponse("def scene_0(): return (1, 2)"),
	}})
	ctx := newPlannerContext(t, d, map[string]any{"topic": "jazz history"})

	workDir := jobWorkDir(d.WorkRoot, ctx.Job.JobID)
	plans := []ImplementationPlan{{Index: 0, Title: "Origins", ShotList: []string{"wide"}, Narration: "n"}}
	if err := writeJSON(plansPath(workDir), plans); err != nil {
		t.Fatalf("writeJSON plans: %v", err)
	}

	out, err := d.runCodeGenerator(ctx)
	if err != nil {
		t.Fatalf("runCodeGenerator: %v", err)
	}
	if out["scene_code_count"] != 1 {
		t.Fatalf("scene_code_count = %v, want 1", out["scene_code_count"])
	}

	code, readErr := readBytes(sceneCodePath(workDir, 0))
	if readErr != nil {
		t.Fatalf("readBytes scene code: %v", readErr)
	}
	if string(code) != "def scene_0(): return (1, 2)" {
		t.Fatalf("persisted code = %q", code)
	}
}

func TestRunCodeGeneratorRepairsInvalidProgram(t *testing.T) {
	d := newTestDeps(t, &fakeOpenAI{jsonResponses: []map[string]any{
		codeResponse("def scene_0(): return (1, 2"),
		codeResponse("def scene_0(): return (1, 2)"),
	}})
	ctx := newPlannerContext(t, d, map[string]any{"topic": "jazz history"})

	workDir := jobWorkDir(d.WorkRoot, ctx.Job.JobID)
	plans := []ImplementationPlan{{Index: 0, Title: "Origins", ShotList: []string{"wide"}, Narration: "n"}}
	if err := writeJSON(plansPath(workDir), plans); err != nil {
		t.Fatalf("writeJSON plans: %v", err)
	}

	out, err := d.runCodeGenerator(ctx)
	if err != nil {
		t.Fatalf("runCodeGenerator: %v", err)
	}
	if out["scene_code_count"] != 1 {
		t.Fatalf("scene_code_count = %v, want 1 after repair", out["scene_code_count"])
	}
}

func TestRunCodeGeneratorFailsWhenPlansMissing(t *testing.T) {
	d := newTestDeps(t, &fakeOpenAI{})
	ctx := newPlannerContext(t, d, map[string]any{"topic": "jazz history"})

	_, err := d.runCodeGenerator(ctx)
	rec, ok := err.(*types.ErrorRecord)
	if !ok || rec.Kind != types.ErrInternal {
		t.Fatalf("expected an internal error record when implementation plans are missing, got %v", err)
	}
}

func TestRunCodeGeneratorFailsAfterRepairStillInvalid(t *testing.T) {
	d := newTestDeps(t, &fakeOpenAI{jsonResponses: []map[string]any{
		codeResponse("def scene_0(): return (1, 2"),
		codeResponse("def scene_0(): return (1, 2"),
	}})
	ctx := newPlannerContext(t, d, map[string]any{"topic": "jazz history"})

	workDir := jobWorkDir(d.WorkRoot, ctx.Job.JobID)
	plans := []ImplementationPlan{{Index: 0, Title: "Origins", ShotList: []string{"wide"}, Narration: "n"}}
	if err := writeJSON(plansPath(workDir), plans); err != nil {
		t.Fatalf("writeJSON plans: %v", err)
	}

	_, err := d.runCodeGenerator(ctx)
	rec, ok := err.(*types.ErrorRecord)
	if !ok || rec.Kind != types.ErrValidation {
		t.Fatalf("expected a terminal validation error after a failed repair round, got %v", err)
	}
}
