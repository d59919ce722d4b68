package stages

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// jobWorkDir is the per-job scratch directory every stage reads and writes
// under, matching spec §9's "each job uses a unique working directory
// work/{job_id}/; no cross-job sharing" rule and reusing
// storage.LocalBackend's own root/work/{job_id} layout so the Uploader
// stage's reads and the local storage backend's writes never collide.
func jobWorkDir(root string, jobID uuid.UUID) string {
	return filepath.Join(root, "work", jobID.String())
}

func outlinePath(workDir string) string       { return filepath.Join(workDir, "outline.json") }
func plansPath(workDir string) string         { return filepath.Join(workDir, "plans.json") }
func scenesDir(workDir string) string         { return filepath.Join(workDir, "scenes") }
func renderResultsPath(workDir string) string { return filepath.Join(workDir, "render_results.json") }
func combinedVideoPath(workDir string) string { return filepath.Join(workDir, "combined.mp4") }
func thumbnailsDir(workDir string) string     { return filepath.Join(workDir, "thumbnails") }

func sceneCodePath(workDir string, index int) string {
	return filepath.Join(scenesDir(workDir), fmt.Sprintf("scene_%03d.py", index))
}

func sceneVideoPath(workDir string, index int) string {
	return filepath.Join(scenesDir(workDir), fmt.Sprintf("scene_%03d.mp4", index))
}

func thumbnailPath(workDir string, size string) string {
	return filepath.Join(thumbnailsDir(workDir), size+".jpg")
}

// writeJSON and readJSON persist per-stage intermediate output (scene
// outline, implementation plans, render results) as plain files under the
// job work directory rather than a JSON column on the job row: a worker
// resuming a job after a nack reconstructs a prior stage's output by
// reading it back from disk instead of re-running that stage, which is
// what "resume from the last completed stage" requires once the
// orchestrator no longer carries a generic state snapshot.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return json.Unmarshal(data, v)
}

// writeBytes persists a plain-text artifact (scene code, subtitle files)
// the same way writeJSON persists structured ones.
func writeBytes(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
