// Package http is the Gin transport layer: routing, request binding, and
// error rendering on top of internal/jobs/submission's use cases. Adapted
// from the teacher's internal/handlers response-helper pattern
// (RespondOK/RespondError), generalized to render apierr.Error's richer
// shape (code, details, correlation_id, retry_after) instead of a bare
// {message, code} pair.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/apierr"
)

type errorBody struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

type errorEnvelope struct {
	Error      errorBody `json:"error"`
	RetryAfter *float64  `json:"retry_after,omitempty"`
}

func respondOK(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

// respondError renders err as the transport error envelope, classifying a
// bare domain.ErrorRecord through apierr.FromErrorRecord and falling back
// to 500 internal for anything else (a wiring bug, not a domain outcome).
func respondError(c *gin.Context, err error) {
	var rec *types.ErrorRecord
	var apiErr *apierr.Error
	switch {
	case errors.As(err, &apiErr):
		// already transport-shaped
	case errors.As(err, &rec):
		apiErr = apierr.FromErrorRecord(rec)
	default:
		apiErr = apierr.New(http.StatusInternalServerError, string(types.ErrInternal), err)
	}

	env := errorEnvelope{Error: errorBody{
		Code:          apiErr.Code,
		Message:       apiErr.Error(),
		Details:       apiErr.Details,
		CorrelationID: apiErr.CorrelationID,
	}}
	if apiErr.RetryAfter != nil {
		secs := apiErr.RetryAfter.Seconds()
		env.RetryAfter = &secs
	}
	c.JSON(apiErr.Status, env)
}
