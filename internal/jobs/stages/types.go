package stages

// SceneDescriptor is one entry of a Planner's SceneOutline.
type SceneDescriptor struct {
	Index int      `json:"index"`
	Title string   `json:"title"`
	Beats []string `json:"beats"`
}

// SceneOutline is the Planner's output: an ordered list of scenes, spec
// §4.9's "1 <= |scenes| <= max_scenes".
type SceneOutline struct {
	Scenes []SceneDescriptor `json:"scenes"`
}

var sceneOutlineSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"scenes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"index": map[string]any{"type": "integer"},
					"title": map[string]any{"type": "string"},
					"beats": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
				"required":             []string{"index", "title", "beats"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"scenes"},
	"additionalProperties": false,
}

// ImplementationPlan is a ScenarioBuilder's expansion of one SceneDescriptor
// into a shot list, assets, and narration text.
type ImplementationPlan struct {
	Index      int      `json:"index"`
	Title      string   `json:"title"`
	ShotList   []string `json:"shot_list"`
	Assets     []string `json:"assets"`
	Narration  string   `json:"narration"`
}

var implementationPlanSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"shot_list": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"assets": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"narration": map[string]any{"type": "string"},
	},
	"required":             []string{"shot_list", "assets", "narration"},
	"additionalProperties": false,
}

// sceneProgramSchema backs the CodeGenerator's request for a structured
// response carrying the animation program as a single text field, so a
// malformed response is caught as a schema violation rather than requiring
// ad-hoc code-fence stripping.
var sceneProgramSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"code": map[string]any{"type": "string"},
	},
	"required":             []string{"code"},
	"additionalProperties": false,
}

// renderResult is CodeGen+Renderer's per-scene durable output: where the
// rendered clip lives on disk and how long it runs, read back by Combiner
// and Uploader without re-invoking the renderer.
type renderResult struct {
	Index           int     `json:"index"`
	VideoPath       string  `json:"video_path"`
	DurationSeconds float64 `json:"duration_seconds"`
}
