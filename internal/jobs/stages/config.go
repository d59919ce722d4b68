package stages

import (
	"fmt"
	"time"
)

// Config is the decoded, defaulted form of domain.Job.Configuration per
// spec §3's enumerated configuration options. Stages read it once via
// configFrom rather than poking at the raw payload map individually.
type Config struct {
	Topic              string
	Context            string
	Quality            string
	UseRAG             bool
	UseContextLearning bool
	EnableSubtitles    bool
	EnableThumbnails   bool
	OutputFormat       string
	ModelPlanner       string
	ModelScene         string
	ModelHelper        string
	MaxSceneConcurrency int
	MaxScenes          int
	RenderTimeoutPerScene time.Duration
}

func defaultConfig() Config {
	return Config{
		Quality:               "medium",
		EnableThumbnails:      true,
		OutputFormat:          "mp4",
		ModelPlanner:          "gpt-5.2",
		ModelScene:            "gpt-5.2",
		ModelHelper:           "gpt-5.2",
		MaxSceneConcurrency:   3,
		MaxScenes:             20,
		RenderTimeoutPerScene: 600 * time.Second,
	}
}

// configFrom decodes a job's configuration payload, applying spec §3's
// defaults for every unset field and validating the two hard constraints
// (non-empty topic, topic length) the Planner depends on.
func configFrom(payload map[string]any) (Config, error) {
	c := defaultConfig()

	if v, ok := stringField(payload, "topic"); ok {
		c.Topic = v
	}
	if c.Topic == "" {
		return c, fmt.Errorf("configuration.topic is required")
	}
	if len(c.Topic) > 512 {
		return c, fmt.Errorf("configuration.topic exceeds 512 characters")
	}

	if v, ok := stringField(payload, "context"); ok {
		c.Context = v
	} else if v, ok := stringField(payload, "description"); ok {
		c.Context = v
	}
	if len(c.Context) > 8000 {
		return c, fmt.Errorf("configuration.context exceeds 8000 characters")
	}

	if v, ok := stringField(payload, "quality"); ok {
		switch v {
		case "low", "medium", "high", "ultra":
			c.Quality = v
		default:
			return c, fmt.Errorf("configuration.quality %q is not one of low|medium|high|ultra", v)
		}
	}

	if v, ok := boolField(payload, "use_rag"); ok {
		c.UseRAG = v
	}
	if v, ok := boolField(payload, "use_context_learning"); ok {
		c.UseContextLearning = v
	}
	if v, ok := boolField(payload, "enable_subtitles"); ok {
		c.EnableSubtitles = v
	}
	if v, ok := boolField(payload, "enable_thumbnails"); ok {
		c.EnableThumbnails = v
	}
	if v, ok := stringField(payload, "output_format"); ok {
		if v != "mp4" {
			return c, fmt.Errorf("configuration.output_format %q is not supported (only mp4)", v)
		}
		c.OutputFormat = v
	}
	if v, ok := stringField(payload, "model_planner"); ok {
		c.ModelPlanner = v
	}
	if v, ok := stringField(payload, "model_scene"); ok {
		c.ModelScene = v
	}
	if v, ok := stringField(payload, "model_helper"); ok {
		c.ModelHelper = v
	}
	if v, ok := intField(payload, "max_scene_concurrency"); ok {
		if v < 1 {
			return c, fmt.Errorf("configuration.max_scene_concurrency must be >= 1")
		}
		c.MaxSceneConcurrency = v
	}

	return c, nil
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolField(payload map[string]any, key string) (bool, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func intField(payload map[string]any, key string) (int, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
