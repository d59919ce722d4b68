package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalBackend roots every key under a single work directory, one unique
// subdirectory per job per spec §9's "each job uses a unique working
// directory work/{job_id}/; no cross-job sharing" rule. Keys already carry
// the job_id segment (see SceneVideoKey etc.), so LocalBackend just joins
// the root and the key and creates parent directories as needed.
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{root: root}
}

func (l *LocalBackend) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalBackend) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, r)
}

func (l *LocalBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return os.Open(l.path(key))
}

func (l *LocalBackend) Delete(ctx context.Context, key string) error {
	err := os.Remove(l.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (l *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// JobWorkDir returns the root-relative working directory a stage executor
// should use for scratch files belonging to a single job.
func (l *LocalBackend) JobWorkDir(jobID string) string {
	return filepath.Join(l.root, "work", jobID)
}
