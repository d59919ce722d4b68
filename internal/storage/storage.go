// Package storage implements the two-tier local/remote object storage
// abstraction: LocalBackend (a plain work/{job_id}/ tree), RemoteBackend
// (GCS, adapted from the teacher's platform/gcp bucket service), and a
// Manager that composes them per the configured Mode.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge-backend/internal/breaker"
	"github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/retry"
)

type Mode string

const (
	ModeLocalOnly     Mode = "local_only"
	ModeRemoteOnly    Mode = "remote_only"
	ModeLocalAndRemote Mode = "local_and_remote"
)

// PutResult carries the computed stream attributes a caller folds into a
// domain.FileMetadata row.
type PutResult struct {
	SizeBytes int64
	SHA256    string
	LocalPath string
	RemoteKey string
}

// Backend is the narrow interface both LocalBackend and RemoteBackend
// satisfy, letting Manager treat them uniformly.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Presigner is implemented only by backends capable of issuing signed URLs
// (the remote backend); presign() per spec never touches the network.
type Presigner interface {
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Manager is the StorageManager contract from spec §4.5: Put/Get/Presign/
// Delete/Exists, keyed by a caller-supplied logical remote key, operating
// over one or both backends depending on Mode.
type Manager struct {
	mode   Mode
	local  Backend
	remote Backend

	breaker *breaker.Breaker
	retry   retry.Policy

	deleteLocalAfterUpload bool
}

const (
	minPresignTTL = 60 * time.Second
	maxPresignTTL = 7 * 24 * time.Hour
)

func NewManager(mode Mode, local, remote Backend, br *breaker.Breaker, retryPolicy retry.Policy, deleteLocalAfterUpload bool) *Manager {
	return &Manager{
		mode:                   mode,
		local:                  local,
		remote:                 remote,
		breaker:                br,
		retry:                  retryPolicy,
		deleteLocalAfterUpload: deleteLocalAfterUpload,
	}
}

// Put streams r into the configured backend(s), computing size and sha256
// while streaming via a TeeReader into a hasher, matching the teacher's
// io.Copy-based writer plumbing generalized with an io.MultiWriter-style
// split. In hybrid mode it writes local first, then uploads remote with
// the circuit breaker and retry policy guarding the remote PUT.
func (m *Manager) Put(ctx context.Context, key string, r io.Reader, correlationID uuid.UUID) (*PutResult, *domain.ErrorRecord) {
	h := sha256.New()
	tee := io.TeeReader(r, h)

	res := &PutResult{}

	switch m.mode {
	case ModeLocalOnly:
		n, err := m.local.Put(ctx, key, tee)
		if err != nil {
			return nil, domain.NewErrorRecord(domain.ErrInternal, "storage_put", correlationID, err.Error())
		}
		res.SizeBytes = n
		res.LocalPath = key

	case ModeRemoteOnly:
		n, rec := m.putRemoteWithBreaker(ctx, key, tee, correlationID)
		if rec != nil {
			return nil, rec
		}
		res.SizeBytes = n
		res.RemoteKey = key

	case ModeLocalAndRemote:
		n, err := m.local.Put(ctx, key, tee)
		if err != nil {
			return nil, domain.NewErrorRecord(domain.ErrInternal, "storage_put", correlationID, err.Error())
		}
		res.SizeBytes = n
		res.LocalPath = key

		local, err := m.local.Get(ctx, key)
		if err != nil {
			return nil, domain.NewErrorRecord(domain.ErrInternal, "storage_put", correlationID, err.Error())
		}
		defer local.Close()

		if _, rec := m.putRemoteWithBreaker(ctx, key, local, correlationID); rec != nil {
			return nil, rec
		}
		res.RemoteKey = key

		if m.deleteLocalAfterUpload {
			_ = m.local.Delete(ctx, key)
		}
	}

	res.SHA256 = hex.EncodeToString(h.Sum(nil))
	return res, nil
}

func (m *Manager) putRemoteWithBreaker(ctx context.Context, key string, r io.Reader, correlationID uuid.UUID) (int64, *domain.ErrorRecord) {
	var n int64
	attempts := 0
	for {
		attempts++
		rec := m.breaker.Call("object_store", correlationID, func() error {
			var err error
			n, err = m.remote.Put(ctx, key, r)
			return err
		})
		if rec == nil {
			return n, nil
		}
		if !m.retry.ShouldRetry(attempts, rec.Kind) {
			rec.Stage = "object_store"
			return 0, rec
		}
		time.Sleep(m.retry.NextDelay(attempts))
	}
}

// Get prefers local if present, else falls back to remote, matching the
// spec's "prefers local if present and not expired" rule (expiry is
// enforced upstream by the partial-retention GC, not here).
func (m *Manager) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if m.local != nil {
		if ok, _ := m.local.Exists(ctx, key); ok {
			return m.local.Get(ctx, key)
		}
	}
	if m.remote == nil {
		return nil, fmt.Errorf("storage: no remote backend configured and local miss for %q", key)
	}
	return m.remote.Get(ctx, key)
}

// Presign only works against the remote backend; presign never touches
// the network, matching the spec's "presign never touches the network"
// failure-semantics note.
func (m *Manager) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl < minPresignTTL {
		ttl = minPresignTTL
	}
	if ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}
	p, ok := m.remote.(Presigner)
	if !ok {
		return "", fmt.Errorf("storage: remote backend does not support presign")
	}
	return p.Presign(ctx, key, ttl)
}

// Delete removes the object from every configured backend; idempotent.
func (m *Manager) Delete(ctx context.Context, key string) error {
	var lastErr error
	if m.local != nil {
		if err := m.local.Delete(ctx, key); err != nil {
			lastErr = err
		}
	}
	if m.remote != nil {
		if err := m.remote.Delete(ctx, key); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	if m.local != nil {
		if ok, err := m.local.Exists(ctx, key); ok && err == nil {
			return true, nil
		}
	}
	if m.remote != nil {
		return m.remote.Exists(ctx, key)
	}
	return false, nil
}

// SceneVideoKey, CombinedVideoKey, SceneCodeKey and ThumbnailKey implement
// the bit-exact remote object layout rules from spec §4.5/§6.2.
func SceneVideoKey(userID, jobID uuid.UUID, sceneIndex int) string {
	return fmt.Sprintf("users/%s/jobs/%s/videos/scene_%03d/output.mp4", userID, jobID, sceneIndex)
}

func CombinedVideoKey(userID, jobID uuid.UUID) string {
	return fmt.Sprintf("users/%s/jobs/%s/videos/combined.mp4", userID, jobID)
}

func SceneCodeKey(userID, jobID uuid.UUID, sceneIndex int) string {
	return fmt.Sprintf("users/%s/jobs/%s/code/scene_%03d.py", userID, jobID, sceneIndex)
}

func ThumbnailKey(userID, jobID uuid.UUID, size string) string {
	return fmt.Sprintf("users/%s/jobs/%s/thumbnails/%s.jpg", userID, jobID, size)
}
