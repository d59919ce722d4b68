package apierr

import (
	"fmt"
	"time"

	"github.com/clipforge/clipforge-backend/internal/domain"
)

type Error struct {
	Status     int
	Code       string
	Err        error
	Details    map[string]any
	CorrelationID string
	RetryAfter *time.Duration
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// kindStatus is the closed error-kind to HTTP-status table.
var kindStatus = map[domain.ErrorKind]int{
	domain.ErrValidation:            400,
	domain.ErrPermission:            403,
	domain.ErrNotFound:              404,
	domain.ErrConflict:              409,
	domain.ErrRateLimited:           429,
	domain.ErrTimeout:               504,
	domain.ErrDependencyUnavailable: 503,
	domain.ErrDependencyError:       502,
	domain.ErrCancelled:             499,
	domain.ErrInternal:              500,
}

// FromErrorRecord maps a domain.ErrorRecord onto its transport representation.
func FromErrorRecord(rec *domain.ErrorRecord) *Error {
	if rec == nil {
		return New(500, string(domain.ErrInternal), nil)
	}
	status, ok := kindStatus[rec.Kind]
	if !ok {
		status = 500
	}
	return &Error{
		Status:        status,
		Code:          string(rec.Kind),
		Err:           rec,
		Details:       rec.Details,
		CorrelationID: rec.CorrelationID.String(),
		RetryAfter:    rec.RetryAfter,
	}
}
