package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/jobs/submission"
	"github.com/clipforge/clipforge-backend/internal/platform/apierr"
	"github.com/clipforge/clipforge-backend/internal/platform/ctxutil"
)

// VideosHandler implements the generate/status/video-url/cancel routes over
// internal/jobs/submission.Service, the same one-handler-per-bounded-use-case
// shape as the teacher's JobsHandler/CourseGenHandler wrapping a single
// service interface.
type VideosHandler struct {
	svc *submission.Service
}

func NewVideosHandler(svc *submission.Service) *VideosHandler {
	return &VideosHandler{svc: svc}
}

func requireRequestData(c *gin.Context) (*ctxutil.RequestData, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil {
		respondError(c, apierr.New(http.StatusUnauthorized, string(types.ErrPermission), nil))
		return nil, false
	}
	return rd, true
}

func jobIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		respondError(c, types.NewErrorRecord(types.ErrValidation, "submission", uuid.New(), "invalid job_id"))
		return uuid.Nil, false
	}
	return id, true
}

// POST /videos/generate
func (h *VideosHandler) Generate(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}

	var req struct {
		Configuration  map[string]any `json:"configuration"`
		Priority       string         `json:"priority"`
		IdempotencyKey string         `json:"idempotency_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, types.NewErrorRecord(types.ErrValidation, "submission", uuid.New(), "invalid request body"))
		return
	}

	job, err := h.svc.Submit(c.Request.Context(), submission.SubmitInput{
		UserID:         rd.UserID,
		Configuration:  req.Configuration,
		Priority:       req.Priority,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, gin.H{
		"job_id": job.JobID,
		"status": job.Status,
		"progress": gin.H{
			"percentage":    job.Progress,
			"current_stage": job.CurrentStage,
		},
		"created_at": job.CreatedAt,
	})
}

// GET /videos/jobs/:job_id/status
func (h *VideosHandler) Status(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	view, err := h.svc.Status(c.Request.Context(), jobID, rd.UserID, rd.Role == string(types.RoleAdmin))
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, gin.H{
		"job_id": view.JobID,
		"status": view.Status,
		"progress": gin.H{
			"percentage":       view.Progress,
			"current_stage":    view.CurrentStage,
			"stages_completed": view.StagesCompleted,
		},
		"created_at":   view.CreatedAt,
		"updated_at":   view.UpdatedAt,
		"completed_at": view.CompletedAt,
		"error":        view.Error,
	})
}

// GET /videos/jobs/:job_id/video-url
func (h *VideosHandler) VideoURL(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	isAdmin := rd.Role == string(types.RoleAdmin)

	// Status first: Artifacts itself 409s on a non-completed job, but
	// quality/format live on Configuration, which Artifacts does not carry;
	// qualityAndFormat reads them separately via RawConfiguration below.
	view, err := h.svc.Status(c.Request.Context(), jobID, rd.UserID, isAdmin)
	if err != nil {
		respondError(c, err)
		return
	}
	if view.Status != types.JobCompleted {
		respondError(c, types.NewErrorRecord(types.ErrConflict, "submission", uuid.New(), "video is not ready"))
		return
	}

	artifacts, err := h.svc.Artifacts(c.Request.Context(), jobID, rd.UserID, isAdmin)
	if err != nil {
		respondError(c, err)
		return
	}

	quality, format := qualityAndFormat(c, jobID, rd.UserID, isAdmin, h.svc)

	thumbnailURL := ""
	if len(artifacts.Thumbnails) > 0 {
		// thumbnailSpecs uploads small, medium, large in that order; medium
		// is the representative thumbnail for a video-card preview.
		idx := len(artifacts.Thumbnails) / 2
		thumbnailURL = artifacts.Thumbnails[idx]
	}

	respondOK(c, http.StatusOK, gin.H{
		"video_url":    artifacts.CombinedURL,
		"download_url": artifacts.CombinedURL,
		"thumbnail_url": thumbnailURL,
		"metadata": gin.H{
			"duration": artifacts.DurationSeconds,
			"quality":  quality,
			"format":   format,
			"file_size": artifacts.SizeBytes,
		},
	})
}

// qualityAndFormat re-reads the job's raw configuration for the two fields
// Artifacts doesn't carry; errors are swallowed in favor of the stage
// layer's own defaults since video-url's metadata is best-effort display
// data, not an authorization or correctness boundary.
func qualityAndFormat(c *gin.Context, jobID, userID uuid.UUID, isAdmin bool, svc *submission.Service) (string, string) {
	quality, format := "medium", "mp4"
	raw := svc.RawConfiguration(c.Request.Context(), jobID, userID, isAdmin)
	if raw == nil {
		return quality, format
	}
	var cfg struct {
		Quality      string `json:"quality"`
		OutputFormat string `json:"output_format"`
	}
	if err := json.Unmarshal(raw, &cfg); err == nil {
		if cfg.Quality != "" {
			quality = cfg.Quality
		}
		if cfg.OutputFormat != "" {
			format = cfg.OutputFormat
		}
	}
	return quality, format
}

// POST /videos/jobs/:job_id/cancel
func (h *VideosHandler) Cancel(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	if err := h.svc.Cancel(c.Request.Context(), jobID, rd.UserID, rd.Role == string(types.RoleAdmin)); err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, gin.H{"job_id": jobID, "status": types.JobCancelled})
}
