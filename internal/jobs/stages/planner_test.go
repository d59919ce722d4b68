package stages

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge-backend/internal/breaker"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	jobrt "github.com/clipforge/clipforge-backend/internal/jobs/runtime"
	"github.com/clipforge/clipforge-backend/internal/llm"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
	"github.com/clipforge/clipforge-backend/internal/retry"
)

// fakeOpenAI is an in-memory openai.Client double returning one queued
// JSON response per call, so a repair round can be exercised by queuing an
// invalid response followed by a valid one.
type fakeOpenAI struct {
	jsonResponses []map[string]any
	jsonErrs      []error
	call          int
}

func (f *fakeOpenAI) GenerateJSON(_ context.Context, _ string, _ string, _ string, _ map[string]any) (map[string]any, error) {
	i := f.call
	f.call++
	if i < len(f.jsonErrs) && f.jsonErrs[i] != nil {
		return nil, f.jsonErrs[i]
	}
	if i < len(f.jsonResponses) {
		return f.jsonResponses[i], nil
	}
	return nil, nil
}

func (f *fakeOpenAI) GenerateText(context.Context, string, string) (string, error) {
	return "", nil
}

func newTestDeps(t *testing.T, openaiClient *fakeOpenAI) *Deps {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	client := llm.New(openaiClient, log, retry.NewRegistry(retry.DefaultMaxAttempts), map[string]*breaker.Breaker{
		dependencyLLMPlanner: breaker.New(dependencyLLMPlanner, breaker.Config{
			FailureThreshold: 100,
			SuccessThreshold: 1,
			OpenTimeout:      time.Minute,
			CallTimeout:      5 * time.Second,
			MaxOpenTimeout:   time.Minute,
		}),
	})
	return &Deps{LLM: client, Log: log, WorkRoot: t.TempDir()}
}

func newPlannerContext(t *testing.T, d *Deps, payload map[string]any) *jobrt.Context {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	job := &types.Job{JobID: uuid.New(), UserID: uuid.New(), Status: types.JobProcessing, Configuration: raw}
	return jobrt.NewContext(context.Background(), nil, job, nil, nil, jobrt.Limits{})
}

func sceneOutlineResponse(scenes ...map[string]any) map[string]any {
	return map[string]any{"scenes": scenes}
}

func scene(index int, title string, beats ...string) map[string]any {
	bs := make([]any, len(beats))
	for i, b := range beats {
		bs[i] = b
	}
	return map[string]any{"index": index, "title": title, "beats": bs}
}

func TestRunPlannerHappyPath(t *testing.T) {
	resp := sceneOutlineResponse(
		scene(0, "Intro", "beat one", "beat two"),
		scene(1, "Body", "beat three"),
	)
	d := newTestDeps(t, &fakeOpenAI{jsonResponses: []map[string]any{resp}})
	ctx := newPlannerContext(t, d, map[string]any{"topic": "jazz history"})

	out, err := d.runPlanner(ctx)
	if err != nil {
		t.Fatalf("runPlanner: %v", err)
	}
	if out["scene_count"] != 2 {
		t.Fatalf("scene_count = %v, want 2", out["scene_count"])
	}

	workDir := jobWorkDir(d.WorkRoot, ctx.Job.JobID)
	if _, statErr := os.Stat(outlinePath(workDir)); statErr != nil {
		t.Fatalf("expected the outline to be persisted: %v", statErr)
	}
}

func TestRunPlannerRejectsMissingTopic(t *testing.T) {
	d := newTestDeps(t, &fakeOpenAI{})
	ctx := newPlannerContext(t, d, map[string]any{})

	_, err := d.runPlanner(ctx)
	rec, ok := err.(*types.ErrorRecord)
	if !ok || rec.Kind != types.ErrValidation {
		t.Fatalf("expected a validation error record for a missing topic, got %v", err)
	}
}

func TestRunPlannerRepairsInvalidOutlineThenSucceeds(t *testing.T) {
	invalid := sceneOutlineResponse(scene(0, "Intro", "beat one"), scene(0, "Dup", "beat two"))
	valid := sceneOutlineResponse(scene(0, "Intro", "beat one"))
	d := newTestDeps(t, &fakeOpenAI{jsonResponses: []map[string]any{invalid, valid}})
	ctx := newPlannerContext(t, d, map[string]any{"topic": "jazz history"})

	out, err := d.runPlanner(ctx)
	if err != nil {
		t.Fatalf("runPlanner: %v", err)
	}
	if out["scene_count"] != 1 {
		t.Fatalf("scene_count = %v, want 1 after repair", out["scene_count"])
	}
}

func TestRunPlannerFailsAfterRepairStillInvalid(t *testing.T) {
	invalid := sceneOutlineResponse(scene(0, "Intro", "beat one"), scene(0, "Dup", "beat two"))
	d := newTestDeps(t, &fakeOpenAI{jsonResponses: []map[string]any{invalid, invalid}})
	ctx := newPlannerContext(t, d, map[string]any{"topic": "jazz history"})

	_, err := d.runPlanner(ctx)
	rec, ok := err.(*types.ErrorRecord)
	if !ok || rec.Kind != types.ErrValidation {
		t.Fatalf("expected a terminal validation error after a failed repair attempt, got %v", err)
	}
}

func TestValidateOutlineRejectsEmptyScenes(t *testing.T) {
	if err := validateOutline(&SceneOutline{}, 5); err == nil {
		t.Fatalf("expected an error for an empty scene outline")
	}
}

func TestValidateOutlineRejectsTooManyScenes(t *testing.T) {
	outline := &SceneOutline{Scenes: []SceneDescriptor{
		{Index: 0, Title: "a", Beats: []string{"x"}},
		{Index: 1, Title: "b", Beats: []string{"y"}},
	}}
	if err := validateOutline(outline, 1); err == nil {
		t.Fatalf("expected an error when scene count exceeds max_scenes")
	}
}

func TestValidateOutlineRequiresContiguousZeroBasedIndices(t *testing.T) {
	outline := &SceneOutline{Scenes: []SceneDescriptor{
		{Index: 0, Title: "a", Beats: []string{"x"}},
		{Index: 2, Title: "b", Beats: []string{"y"}},
	}}
	if err := validateOutline(outline, 10); err == nil {
		t.Fatalf("expected an error for non-contiguous scene indices")
	}
}

func TestValidateOutlineRejectsMissingTitleOrBeats(t *testing.T) {
	noTitle := &SceneOutline{Scenes: []SceneDescriptor{{Index: 0, Beats: []string{"x"}}}}
	if err := validateOutline(noTitle, 10); err == nil {
		t.Fatalf("expected an error for a missing title")
	}
	noBeats := &SceneOutline{Scenes: []SceneDescriptor{{Index: 0, Title: "a"}}}
	if err := validateOutline(noBeats, 10); err == nil {
		t.Fatalf("expected an error for missing beats")
	}
}

func TestValidateOutlineAcceptsWellFormedOutline(t *testing.T) {
	outline := &SceneOutline{Scenes: []SceneDescriptor{
		{Index: 0, Title: "a", Beats: []string{"x"}},
		{Index: 1, Title: "b", Beats: []string{"y"}},
	}}
	if err := validateOutline(outline, 10); err != nil {
		t.Fatalf("validateOutline: %v", err)
	}
}
