package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/apierr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestGinContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func TestRespondErrorClassifiesDomainErrorRecord(t *testing.T) {
	c, w := newTestGinContext()
	rec := types.NewErrorRecord(types.ErrNotFound, "submission", uuid.New(), "job not found")

	respondError(c, rec)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var env errorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if env.Error.Code != string(types.ErrNotFound) {
		t.Fatalf("error code = %q, want %q", env.Error.Code, types.ErrNotFound)
	}
}

func TestRespondErrorPassesThroughAlreadyShapedAPIError(t *testing.T) {
	c, w := newTestGinContext()
	respondError(c, apierr.New(http.StatusTeapot, "custom_code", errors.New("teapot")))

	if w.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", w.Code)
	}
}

func TestRespondErrorFallsBackTo500ForPlainError(t *testing.T) {
	c, w := newTestGinContext()
	respondError(c, errors.New("unexpected wiring bug"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var env errorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if env.Error.Code != string(types.ErrInternal) {
		t.Fatalf("error code = %q, want internal", env.Error.Code)
	}
}

func TestRespondErrorMapsRateLimitedTo429(t *testing.T) {
	c, w := newTestGinContext()
	rec := types.NewErrorRecord(types.ErrRateLimited, "submission", uuid.New(), "slow down")

	respondError(c, rec)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
}
