package stages

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	jobrt "github.com/clipforge/clipforge-backend/internal/jobs/runtime"
)

// runCombiner concatenates every scene's rendered clip into one video and,
// when enabled, a synthesized subtitle track built from each scene's
// narration text and its rendered duration.
func (d *Deps) runCombiner(ctx *jobrt.Context) (map[string]any, error) {
	cfg, err := configFrom(ctx.Payload())
	if err != nil {
		return d.fail(ctx, types.ErrValidation, string(types.StageCombining), err.Error())
	}

	workDir := jobWorkDir(d.WorkRoot, ctx.Job.JobID)
	var results []renderResult
	if err := readJSON(renderResultsPath(workDir), &results); err != nil {
		return d.fail(ctx, types.ErrInternal, string(types.StageCombining), "failed to load render results: "+err.Error())
	}

	videoPaths := make([]string, len(results))
	for i, r := range results {
		videoPaths[i] = r.VideoPath
	}

	var subtitlePaths []string
	if cfg.EnableSubtitles {
		var plans []ImplementationPlan
		if err := readJSON(plansPath(workDir), &plans); err != nil {
			return d.fail(ctx, types.ErrInternal, string(types.StageCombining), "failed to load implementation plans for subtitles: "+err.Error())
		}
		narrationByIndex := make(map[int]string, len(plans))
		for _, p := range plans {
			narrationByIndex[p.Index] = p.Narration
		}
		subtitlePaths = make([]string, len(results))
		for i, r := range results {
			srt := narrationToSRT(narrationByIndex[r.Index], r.DurationSeconds)
			path := filepath.Join(scenesDir(workDir), sceneSubtitleName(r.Index))
			if err := writeBytes(path, []byte(srt)); err != nil {
				return d.fail(ctx, types.ErrInternal, string(types.StageCombining), "failed to persist scene subtitles: "+err.Error())
			}
			subtitlePaths[i] = path
		}
	}

	outPath := combinedVideoPath(workDir)
	if err := d.Render.Combine(ctx.Ctx, videoPaths, subtitlePaths, cfg.EnableSubtitles, outPath); err != nil {
		if rec, ok := err.(*types.ErrorRecord); ok {
			return nil, rec
		}
		return d.fail(ctx, types.ErrDependencyError, string(types.StageCombining), "combine failed: "+err.Error())
	}

	return map[string]any{"combined_video_path": outPath}, nil
}

func sceneSubtitleName(index int) string {
	return fmt.Sprintf("scene_%03d.srt", index)
}

// narrationToSRT splits narration text into sentences and spreads them
// evenly across the scene's rendered duration, producing a single subtitle
// track per scene good enough to remux without a separate TTS/alignment
// pass, which is out of scope.
func narrationToSRT(narration string, durationSeconds float64) string {
	sentences := splitSentences(narration)
	if len(sentences) == 0 || durationSeconds <= 0 {
		return ""
	}
	per := durationSeconds / float64(len(sentences))
	var sb strings.Builder
	for i, sentence := range sentences {
		start := time.Duration(float64(i) * per * float64(time.Second))
		end := time.Duration(float64(i+1) * per * float64(time.Second))
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(start), srtTimestamp(end), sentence)
	}
	return sb.String()
}

func srtTimestamp(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func splitSentences(narration string) []string {
	narration = strings.TrimSpace(narration)
	if narration == "" {
		return nil
	}
	raw := strings.FieldsFunc(narration, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{narration}
	}
	return out
}
