package jobs

import (
	"time"

	"github.com/google/uuid"
)

// ErrorKind is the closed set of error categories the pipeline produces.
// Mapping to transport codes lives in internal/platform/apierr.
type ErrorKind string

const (
	ErrValidation            ErrorKind = "validation"
	ErrNotFound              ErrorKind = "not_found"
	ErrPermission            ErrorKind = "permission"
	ErrConflict              ErrorKind = "conflict"
	ErrRateLimited           ErrorKind = "rate_limited"
	ErrTimeout               ErrorKind = "timeout"
	ErrDependencyUnavailable ErrorKind = "dependency_unavailable"
	ErrDependencyError       ErrorKind = "dependency_error"
	ErrInternal              ErrorKind = "internal"
	ErrCancelled             ErrorKind = "cancelled"
)

// ErrorRecord is the structured error every stage and API boundary produces
// in place of a bare Go error. It carries enough context to both drive
// retry decisions and populate a transport error payload.
type ErrorRecord struct {
	Kind          ErrorKind      `json:"kind"`
	Message       string         `json:"message"`
	Stage         string         `json:"stage,omitempty"`
	Retryable     bool           `json:"retryable"`
	CorrelationID uuid.UUID      `json:"correlation_id"`
	RetryAfter    *time.Duration `json:"retry_after,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	TS            time.Time      `json:"ts"`
}

func (e *ErrorRecord) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func NewErrorRecord(kind ErrorKind, stage string, correlationID uuid.UUID, message string) *ErrorRecord {
	return &ErrorRecord{
		Kind:          kind,
		Message:       message,
		Stage:         stage,
		Retryable:     defaultRetryable(kind),
		CorrelationID: correlationID,
		TS:            time.Now(),
	}
}

func defaultRetryable(kind ErrorKind) bool {
	switch kind {
	case ErrTimeout, ErrDependencyUnavailable, ErrDependencyError, ErrRateLimited:
		return true
	default:
		return false
	}
}
