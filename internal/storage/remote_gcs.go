package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

// RemoteObjectStorageMode mirrors the teacher's gcp.ObjectStorageMode: a
// real GCS client, or a local emulator reachable via STORAGE_EMULATOR_HOST,
// selected the same way (OBJECT_STORAGE_MODE env var, emulator-host
// fallback).
type RemoteObjectStorageMode string

const (
	RemoteModeGCS         RemoteObjectStorageMode = "gcs"
	RemoteModeGCSEmulator RemoteObjectStorageMode = "gcs_emulator"
)

// RemoteBackend adapts the teacher's bucketService to the single-bucket
// object layout this spec requires (one bucket, keys already encode
// users/{user_id}/jobs/{job_id}/... per §6.2, rather than the teacher's
// avatar/material bucket-category split).
type RemoteBackend struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
	mode   RemoteObjectStorageMode
}

func NewRemoteBackend(ctx context.Context, log *logger.Logger, bucket string, mode RemoteObjectStorageMode, emulatorHost string) (*RemoteBackend, error) {
	client, err := newGCSClient(ctx, mode, emulatorHost)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &RemoteBackend{
		log:    log.With("backend", "gcs", "bucket", bucket),
		client: client,
		bucket: bucket,
		mode:   mode,
	}, nil
}

func newGCSClient(ctx context.Context, mode RemoteObjectStorageMode, emulatorHost string) (*storage.Client, error) {
	switch mode {
	case RemoteModeGCS:
		opts := append(credentialOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case RemoteModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(emulatorHost), "/")
		if endpoint == "" {
			return nil, fmt.Errorf("gcs_emulator mode requires STORAGE_EMULATOR_HOST")
		}
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, fmt.Errorf("unsupported remote object storage mode %q", mode)
	}
}

func (r *RemoteBackend) Put(ctx context.Context, key string, data io.Reader) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := r.client.Bucket(r.bucket).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	n, err := io.Copy(w, data)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("write gcs object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("close gcs writer for %q: %w", key, err)
	}
	return n, nil
}

func (r *RemoteBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	rc, err := r.client.Bucket(r.bucket).Object(key).NewReader(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open gcs reader for %q: %w", key, err)
	}
	return &readCloserWithCancel{ReadCloser: rc, cancel: cancel}, nil
}

func (r *RemoteBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := r.client.Bucket(r.bucket).Object(key).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("delete gcs object %q: %w", key, err)
	}
	return nil
}

func (r *RemoteBackend) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := r.client.Bucket(r.bucket).Object(key).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Presign issues a V4-signed, GET-only URL, denying write per spec: the
// teacher never presigns (its GetPublicURL instead returns a bucket-public
// or CDN URL), so this method has no direct teacher precedent but reuses
// the same cloud.google.com/go/storage client already wired for Put/Get.
func (r *RemoteBackend) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	}
	url, err := r.client.Bucket(r.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign url for %q: %w", key, err)
	}
	return url, nil
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(s, ".py"):
		return "text/x-python"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	default:
		return ""
	}
}

// credentialOptionsFromEnv mirrors the teacher's gcp.ClientOptionsFromEnv:
// inline JSON credentials take precedence over a credentials file path,
// falling back to application-default credentials when neither is set.
func credentialOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// readCloserWithCancel defers the context cancellation to Close, matching
// the teacher's own fix-up comment in platform/gcp/bucket.go: cancelling
// eagerly truncates reads to zero bytes.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}
