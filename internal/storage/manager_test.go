package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge-backend/internal/breaker"
	"github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/retry"
)

// fakeBackend is an in-memory Backend+Presigner double so Manager's
// mode-switching logic can be tested without a filesystem or GCS.
type fakeBackend struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putErr   error
	putCalls int
	lastTTL  time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: map[string][]byte{}}
}

func (f *fakeBackend) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putErr != nil {
		return 0, f.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	f.objects[key] = b
	return int64(len(b)), nil
}

func (f *fakeBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBackend) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBackend) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.lastTTL = ttl
	return "https://example.com/" + key, nil
}

func newTestManager(mode Mode, local, remote Backend) *Manager {
	br := breaker.New("object_store", breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
		CallTimeout:      time.Second,
		MaxOpenTimeout:   time.Minute,
	})
	return NewManager(mode, local, remote, br, retry.NewPolicy(domain.ErrDependencyError, map[string]int{"dependency_error": 1}), false)
}

func TestManagerPutLocalOnly(t *testing.T) {
	local := newFakeBackend()
	m := newTestManager(ModeLocalOnly, local, nil)

	res, rec := m.Put(context.Background(), "k1", bytes.NewBufferString("hello"), uuid.New())
	if rec != nil {
		t.Fatalf("Put: %v", rec)
	}
	if res.SizeBytes != 5 || res.LocalPath != "k1" || res.RemoteKey != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.SHA256 == "" {
		t.Fatalf("expected a computed sha256")
	}
}

func TestManagerPutLocalAndRemoteUploadsBoth(t *testing.T) {
	local := newFakeBackend()
	remote := newFakeBackend()
	m := newTestManager(ModeLocalAndRemote, local, remote)

	res, rec := m.Put(context.Background(), "k1", bytes.NewBufferString("hello"), uuid.New())
	if rec != nil {
		t.Fatalf("Put: %v", rec)
	}
	if res.LocalPath != "k1" || res.RemoteKey != "k1" {
		t.Fatalf("expected both backends populated: %+v", res)
	}
	if ok, _ := local.Exists(context.Background(), "k1"); !ok {
		t.Fatalf("local copy should still exist (deleteLocalAfterUpload=false)")
	}
	if ok, _ := remote.Exists(context.Background(), "k1"); !ok {
		t.Fatalf("remote copy should exist")
	}
}

func TestManagerPutRemoteFailureSurfacesErrorRecord(t *testing.T) {
	remote := newFakeBackend()
	remote.putErr = errors.New("upload failed")
	m := newTestManager(ModeRemoteOnly, nil, remote)

	_, rec := m.Put(context.Background(), "k1", bytes.NewBufferString("hello"), uuid.New())
	if rec == nil {
		t.Fatalf("expected an error record on remote put failure")
	}
	if rec.Stage != "object_store" {
		t.Fatalf("stage = %q, want object_store", rec.Stage)
	}
}

func TestManagerGetPrefersLocal(t *testing.T) {
	local := newFakeBackend()
	remote := newFakeBackend()
	local.objects["k1"] = []byte("local-version")
	remote.objects["k1"] = []byte("remote-version")
	m := newTestManager(ModeLocalAndRemote, local, remote)

	rc, err := m.Get(context.Background(), "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "local-version" {
		t.Fatalf("Get returned %q, want local-version", b)
	}
}

func TestManagerGetFallsBackToRemoteOnLocalMiss(t *testing.T) {
	local := newFakeBackend()
	remote := newFakeBackend()
	remote.objects["k1"] = []byte("remote-version")
	m := newTestManager(ModeLocalAndRemote, local, remote)

	rc, err := m.Get(context.Background(), "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "remote-version" {
		t.Fatalf("Get returned %q, want remote-version", b)
	}
}

func TestManagerPresignClampsTTL(t *testing.T) {
	remote := newFakeBackend()
	m := newTestManager(ModeRemoteOnly, nil, remote)

	if _, err := m.Presign(context.Background(), "k1", time.Second); err != nil {
		t.Fatalf("Presign: %v", err)
	}
	if remote.lastTTL != minPresignTTL {
		t.Fatalf("ttl passed to backend = %v, want it clamped up to %v", remote.lastTTL, minPresignTTL)
	}
}

func TestManagerPresignRequiresPresignerBackend(t *testing.T) {
	m := newTestManager(ModeLocalOnly, newFakeBackend(), nil)
	if _, err := m.Presign(context.Background(), "k1", time.Minute); err == nil {
		t.Fatalf("expected an error: local backend does not implement Presigner")
	}
}
