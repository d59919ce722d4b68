// Package render wraps the system binaries a Renderer/Combiner stage
// shells out to, grounded on the teacher's internal/platform/localmedia
// Tools: exec.CommandContext per call, CombinedOutput for error context,
// a context.WithTimeout wrapping each subprocess, glob-scan fallbacks when
// a tool's output naming is not guaranteed. The teacher converts office
// documents to PDF page images; this domain instead renders an animation
// program to an MP4 via an external renderer binary and combines per-scene
// MP4s with ffmpeg, so ConvertOfficeToPDF/RenderPDFToImages have no
// equivalent here and are not carried over.
package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

// QualityProfile is the opaque renderer resolution/bitrate profile spec
// §3 assigns to configuration.quality; Renderer treats it as opaque and
// passes the resolved profile straight through to the renderer binary.
type QualityProfile struct {
	Resolution string
	Bitrate    string
	FPS        int
}

var QualityProfiles = map[string]QualityProfile{
	"low":    {Resolution: "640x360", Bitrate: "800k", FPS: 24},
	"medium": {Resolution: "1280x720", Bitrate: "2500k", FPS: 30},
	"high":   {Resolution: "1920x1080", Bitrate: "6000k", FPS: 30},
	"ultra":  {Resolution: "3840x2160", Bitrate: "16000k", FPS: 60},
}

func profileFor(quality string) QualityProfile {
	if p, ok := QualityProfiles[strings.ToLower(strings.TrimSpace(quality))]; ok {
		return p
	}
	return QualityProfiles["medium"]
}

// Runner is the subprocess surface internal/jobs/stages.Renderer and
// Combiner call through; a fake implementation lets stage tests run
// without the actual renderer/ffmpeg binaries installed.
type Runner interface {
	AssertReady(ctx context.Context) error

	// RenderScene invokes the external animation renderer on one scene
	// program, returning the produced clip's duration in seconds.
	RenderScene(ctx context.Context, programPath, outPath, quality string) (durationSeconds float64, err error)

	// Combine concatenates sceneVideoPaths in order into outPath, merging
	// subtitleSRTPaths (one per scene, same order, may be empty) when
	// enableSubtitles is set.
	Combine(ctx context.Context, sceneVideoPaths []string, subtitleSRTPaths []string, enableSubtitles bool, outPath string) error

	// ProbeDuration returns a video's duration in seconds.
	ProbeDuration(ctx context.Context, videoPath string) (float64, error)

	// ExtractThumbnail grabs a single frame at atSeconds, scaled to width
	// (height auto to preserve aspect ratio), written to outPath as JPEG.
	ExtractThumbnail(ctx context.Context, videoPath, outPath string, atSeconds float64, width int) error
}

type runner struct {
	log *logger.Logger

	rendererBinary string
	ffmpegPath     string
	ffprobePath    string

	subprocessTimeout time.Duration
}

// Config names the binaries and the hard per-subprocess ceiling that
// backstops the caller's own context timeout; SubprocessTimeout should
// exceed the largest per-scene render_timeout_per_scene configuration
// allows, since the caller's context is what actually bounds each call.
type Config struct {
	RendererBinary    string
	FFmpegPath        string
	FFprobePath       string
	SubprocessTimeout time.Duration
}

func New(log *logger.Logger, cfg Config) Runner {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.SubprocessTimeout <= 0 {
		cfg.SubprocessTimeout = 15 * time.Minute
	}
	return &runner{
		log:               log.With("component", "RenderRunner"),
		rendererBinary:    cfg.RendererBinary,
		ffmpegPath:        cfg.FFmpegPath,
		ffprobePath:       cfg.FFprobePath,
		subprocessTimeout: cfg.SubprocessTimeout,
	}
}

func (r *runner) AssertReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	bins := []string{r.ffmpegPath, r.ffprobePath}
	if r.rendererBinary != "" {
		bins = append(bins, r.rendererBinary)
	}
	for _, bin := range bins {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	_ = ctx
	return nil
}

func (r *runner) RenderScene(ctx context.Context, programPath, outPath, quality string) (float64, error) {
	if programPath == "" {
		return 0, fmt.Errorf("programPath required")
	}
	if outPath == "" {
		return 0, fmt.Errorf("outPath required")
	}
	if r.rendererBinary == "" {
		return 0, fmt.Errorf("renderer binary not configured")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir outPath dir: %w", err)
	}

	profile := profileFor(quality)
	ctx, cancel := context.WithTimeout(ctx, r.subprocessTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.rendererBinary,
		"--input", programPath,
		"--output", outPath,
		"--resolution", profile.Resolution,
		"--bitrate", profile.Bitrate,
		"--fps", strconv.Itoa(profile.FPS),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("renderer subprocess failed: %w; out=%s", err, string(out))
	}
	if _, err := os.Stat(outPath); err != nil {
		return 0, fmt.Errorf("renderer produced no output at %s; out=%s", outPath, string(out))
	}

	return r.ProbeDuration(ctx, outPath)
}

func (r *runner) ProbeDuration(ctx context.Context, videoPath string) (float64, error) {
	if videoPath == "" {
		return 0, fmt.Errorf("videoPath required")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w; out=%s", err, string(out))
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned non-numeric duration %q: %w", string(out), err)
	}
	return d, nil
}

// Combine concatenates the scene clips with ffmpeg's concat demuxer
// (stream copy, no re-encode) so identical inputs always produce
// identical output modulo muxer timestamps, matching the deterministic
// Combiner invariant spec §4.9 requires.
func (r *runner) Combine(ctx context.Context, sceneVideoPaths []string, subtitleSRTPaths []string, enableSubtitles bool, outPath string) error {
	if len(sceneVideoPaths) == 0 {
		return fmt.Errorf("at least one scene video required")
	}
	if outPath == "" {
		return fmt.Errorf("outPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir outPath dir: %w", err)
	}

	listPath := outPath + ".concat.txt"
	var sb strings.Builder
	for _, p := range sceneVideoPaths {
		sb.WriteString(fmt.Sprintf("file '%s'\n", filepath.ToSlash(p)))
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	ctx, cancel := context.WithTimeout(ctx, r.subprocessTimeout)
	defer cancel()

	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath}

	if enableSubtitles && len(subtitleSRTPaths) > 0 {
		srtPath, err := mergeSubtitles(subtitleSRTPaths, outPath+".srt")
		if err != nil {
			return fmt.Errorf("merge subtitles: %w", err)
		}
		defer os.Remove(srtPath)
		args = append(args, "-i", srtPath, "-map", "0:v", "-map", "0:a?", "-map", "1:s",
			"-c:v", "copy", "-c:a", "copy", "-c:s", "mov_text")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg combine failed: %w; out=%s", err, string(out))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("combine produced no output at %s", outPath)
	}
	return nil
}

// mergeSubtitles concatenates per-scene SRT files into one, renumbering
// cue indices; durations are assumed already offset by the caller since
// only the caller knows each scene's cumulative start time.
func mergeSubtitles(srtPaths []string, outPath string) (string, error) {
	var sb strings.Builder
	cue := 1
	for _, p := range srtPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("read subtitle %s: %w", p, err)
		}
		for _, block := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n\n") {
			block = strings.TrimSpace(block)
			if block == "" {
				continue
			}
			lines := strings.SplitN(block, "\n", 2)
			if len(lines) != 2 {
				continue
			}
			sb.WriteString(fmt.Sprintf("%d\n%s\n\n", cue, lines[1]))
			cue++
		}
	}
	if err := os.WriteFile(outPath, []byte(sb.String()), 0o644); err != nil {
		return "", err
	}
	return outPath, nil
}

func (r *runner) ExtractThumbnail(ctx context.Context, videoPath, outPath string, atSeconds float64, width int) error {
	if videoPath == "" {
		return fmt.Errorf("videoPath required")
	}
	if outPath == "" {
		return fmt.Errorf("outPath required")
	}
	if width <= 0 {
		width = 640
	}
	if atSeconds < 0 {
		atSeconds = 0
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir outPath dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.ffmpegPath,
		"-y",
		"-ss", strconv.FormatFloat(atSeconds, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-1", width),
		"-q:v", "3",
		outPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg thumbnail failed: %w; out=%s", err, string(out))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("thumbnail produced no output at %s", outPath)
	}
	return nil
}
