package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	jobsrepo "github.com/clipforge/clipforge-backend/internal/data/repos/jobs"
	"github.com/clipforge/clipforge-backend/internal/data/repos/testutil"
	"github.com/clipforge/clipforge-backend/internal/breaker"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/jobs/submission"
	"github.com/clipforge/clipforge-backend/internal/platform/ctxutil"
	"github.com/clipforge/clipforge-backend/internal/retry"
	"github.com/clipforge/clipforge-backend/internal/storage"
)

// fakeVideoBackend mirrors submission's fakePresignBackend so VideosHandler
// can be exercised end to end without a real object store.
type fakeVideoBackend struct {
	objects map[string][]byte
}

func newFakeVideoBackend() *fakeVideoBackend { return &fakeVideoBackend{objects: map[string][]byte{}} }

func (f *fakeVideoBackend) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	f.objects[key] = b
	return int64(len(b)), nil
}

func (f *fakeVideoBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.objects[key])), nil
}

func (f *fakeVideoBackend) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeVideoBackend) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeVideoBackend) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://example.com/" + key, nil
}

// newTestRouter wires VideosHandler behind a stand-in auth middleware that
// injects the given RequestData directly, rather than exercising the real
// bearer-token middleware — this test is scoped to the handler/service
// layer, not authentication.
func newTestRouter(svc *submission.Service, rd *ctxutil.RequestData) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewVideosHandler(svc)

	videos := router.Group("/videos")
	videos.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Next()
	})
	{
		videos.POST("/generate", handler.Generate)
		videos.GET("/jobs/:job_id/status", handler.Status)
		videos.GET("/jobs/:job_id/video-url", handler.VideoURL)
		videos.POST("/jobs/:job_id/cancel", handler.Cancel)
	}
	return router
}

func newTestVideosService(t *testing.T) (*submission.Service, *gorm.DB) {
	t.Helper()
	db := testutil.DB(t)
	gtx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	br := breaker.New("object_store", breaker.Config{
		FailureThreshold: 100,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
		CallTimeout:      5 * time.Second,
		MaxOpenTimeout:   time.Minute,
	})
	mgr := storage.NewManager(storage.ModeRemoteOnly, nil, newFakeVideoBackend(), br, retry.NewPolicy(types.ErrDependencyError, map[string]int{"dependency_error": 1}), false)

	svc := submission.NewService(gtx, log,
		jobsrepo.NewUserRepo(gtx, log),
		jobsrepo.NewJobRepo(gtx, log),
		jobsrepo.NewQueueRepo(gtx, log),
		jobsrepo.NewFileRepo(gtx, log),
		mgr,
	)
	return svc, gtx
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestVideosHandlerGenerateCreatesJob(t *testing.T) {
	svc, _ := newTestVideosService(t)
	rd := &ctxutil.RequestData{UserID: uuid.New(), Role: string(types.RoleUser)}
	router := newTestRouter(svc, rd)

	w := doJSON(router, http.MethodPost, "/videos/generate", map[string]any{
		"configuration": map[string]any{"topic": "jazz history"},
		"priority":      "normal",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		JobID uuid.UUID `json:"job_id"`
		Status string   `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != string(types.JobQueued) {
		t.Fatalf("status = %q, want queued", resp.Status)
	}
}

func TestVideosHandlerGenerateRejectsEmptyConfiguration(t *testing.T) {
	svc, _ := newTestVideosService(t)
	rd := &ctxutil.RequestData{UserID: uuid.New(), Role: string(types.RoleUser)}
	router := newTestRouter(svc, rd)

	w := doJSON(router, http.MethodPost, "/videos/generate", map[string]any{})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestVideosHandlerStatusReturnsJobState(t *testing.T) {
	svc, gtx := newTestVideosService(t)
	owner := testutil.SeedUser(t, context.Background(), gtx, types.RoleUser)
	job := testutil.SeedJob(t, context.Background(), gtx, owner.UserID, types.JobProcessing, types.PriorityNormal)
	rd := &ctxutil.RequestData{UserID: owner.UserID, Role: string(types.RoleUser)}
	router := newTestRouter(svc, rd)

	w := doJSON(router, http.MethodGet, "/videos/jobs/"+job.JobID.String()+"/status", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != string(types.JobProcessing) {
		t.Fatalf("status = %q, want processing", resp.Status)
	}
}

func TestVideosHandlerStatusForbidsNonOwner(t *testing.T) {
	svc, gtx := newTestVideosService(t)
	owner := testutil.SeedUser(t, context.Background(), gtx, types.RoleUser)
	job := testutil.SeedJob(t, context.Background(), gtx, owner.UserID, types.JobProcessing, types.PriorityNormal)
	rd := &ctxutil.RequestData{UserID: uuid.New(), Role: string(types.RoleUser)}
	router := newTestRouter(svc, rd)

	w := doJSON(router, http.MethodGet, "/videos/jobs/"+job.JobID.String()+"/status", nil)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body = %s", w.Code, w.Body.String())
	}
}

func TestVideosHandlerStatusRejectsMalformedJobID(t *testing.T) {
	svc, _ := newTestVideosService(t)
	rd := &ctxutil.RequestData{UserID: uuid.New(), Role: string(types.RoleUser)}
	router := newTestRouter(svc, rd)

	w := doJSON(router, http.MethodGet, "/videos/jobs/not-a-uuid/status", nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestVideosHandlerVideoURLRejectsIncompleteJob(t *testing.T) {
	svc, gtx := newTestVideosService(t)
	owner := testutil.SeedUser(t, context.Background(), gtx, types.RoleUser)
	job := testutil.SeedJob(t, context.Background(), gtx, owner.UserID, types.JobProcessing, types.PriorityNormal)
	rd := &ctxutil.RequestData{UserID: owner.UserID, Role: string(types.RoleUser)}
	router := newTestRouter(svc, rd)

	w := doJSON(router, http.MethodGet, "/videos/jobs/"+job.JobID.String()+"/video-url", nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", w.Code, w.Body.String())
	}
}

func TestVideosHandlerVideoURLReturnsPresignedURLs(t *testing.T) {
	svc, gtx := newTestVideosService(t)
	owner := testutil.SeedUser(t, context.Background(), gtx, types.RoleUser)
	job := testutil.SeedJob(t, context.Background(), gtx, owner.UserID, types.JobCompleted, types.PriorityNormal)
	combined := testutil.SeedFileMetadata(t, context.Background(), gtx, owner.UserID, job.JobID, types.FileCombinedVideo, "combined")
	if err := gtx.Model(&types.FileMetadata{}).Where("file_id = ?", combined.FileID).Update("object_key", "users/x/jobs/y/videos/combined.mp4").Error; err != nil {
		t.Fatalf("set object_key: %v", err)
	}
	rd := &ctxutil.RequestData{UserID: owner.UserID, Role: string(types.RoleUser)}
	router := newTestRouter(svc, rd)

	w := doJSON(router, http.MethodGet, "/videos/jobs/"+job.JobID.String()+"/video-url", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		VideoURL string `json:"video_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.VideoURL == "" {
		t.Fatalf("expected a non-empty presigned video_url")
	}
}

func TestVideosHandlerCancelTransitionsJob(t *testing.T) {
	svc, gtx := newTestVideosService(t)
	owner := testutil.SeedUser(t, context.Background(), gtx, types.RoleUser)
	job := testutil.SeedJob(t, context.Background(), gtx, owner.UserID, types.JobQueued, types.PriorityNormal)
	rd := &ctxutil.RequestData{UserID: owner.UserID, Role: string(types.RoleUser)}
	router := newTestRouter(svc, rd)

	w := doJSON(router, http.MethodPost, "/videos/jobs/"+job.JobID.String()+"/cancel", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestVideosHandlerCancelRejectsTerminalJob(t *testing.T) {
	svc, gtx := newTestVideosService(t)
	owner := testutil.SeedUser(t, context.Background(), gtx, types.RoleUser)
	job := testutil.SeedJob(t, context.Background(), gtx, owner.UserID, types.JobCompleted, types.PriorityNormal)
	rd := &ctxutil.RequestData{UserID: owner.UserID, Role: string(types.RoleUser)}
	router := newTestRouter(svc, rd)

	w := doJSON(router, http.MethodPost, "/videos/jobs/"+job.JobID.String()+"/cancel", nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", w.Code, w.Body.String())
	}
}
