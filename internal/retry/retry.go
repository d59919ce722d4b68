// Package retry generalizes the orchestrator's per-stage RetryPolicy and
// computeBackoff (exponential, jittered, capped) into a standalone policy
// keyed on domain.ErrorKind instead of a raw error, so both the orchestrator
// and the LLM/storage/render clients can share one retry/backoff formula.
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/clipforge/clipforge-backend/internal/domain"
)

// Policy mirrors the teacher's orchestrator.RetryPolicy shape but is keyed on
// ErrorKind rather than an opaque error, so it can be defined once per kind
// per §6.3 rather than once per stage.
type Policy struct {
	MaxAttempts int
	Retryable   func(domain.ErrorKind) bool

	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 30s
	JitterFrac float64       // default 0.20
}

// DefaultMaxAttempts is the spec §6.3 per-kind attempt budget. validation and
// cancelled are intentionally absent: they are hard-coded non-retryable.
var DefaultMaxAttempts = map[string]int{
	"timeout":                3,
	"dependency_unavailable": 5,
	"dependency_error":       3,
	"rate_limited":           5,
}

// nonRetryableKinds can never be retried regardless of MaxAttempts.
var nonRetryableKinds = map[domain.ErrorKind]bool{
	domain.ErrValidation: true,
	domain.ErrCancelled:  true,
}

// NewPolicy builds a Policy for a single ErrorKind from the configured
// max-attempts map, defaulting unlisted kinds to 0 (non-retryable).
func NewPolicy(kind domain.ErrorKind, maxAttempts map[string]int) Policy {
	max := maxAttempts[string(kind)]
	return Policy{
		MaxAttempts: max,
		Retryable: func(k domain.ErrorKind) bool {
			if nonRetryableKinds[k] {
				return false
			}
			return k == kind
		},
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
		JitterFrac: 0.20,
	}
}

// ShouldRetry reports whether another attempt is warranted given the number
// of attempts already made (1-indexed, i.e. attempts=1 after the first
// failure) and the error kind that just occurred.
func (p Policy) ShouldRetry(attempts int, kind domain.ErrorKind) bool {
	if nonRetryableKinds[kind] {
		return false
	}
	if p.MaxAttempts <= 0 || attempts >= p.MaxAttempts {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(kind)
}

// NextDelay computes the jittered exponential backoff for the given
// attempt count (1-indexed), identical in shape to the teacher's
// computeBackoff: base 2^(attempts-1) * MinBackoff, capped at MaxBackoff,
// then widened by +/-JitterFrac and sampled uniformly. This is not full
// jitter: the delay never falls below (1-JitterFrac) of the capped base.
func (p Policy) NextDelay(attempts int) time.Duration {
	minB := p.MinBackoff
	maxB := p.MaxBackoff
	j := p.JitterFrac
	if minB <= 0 {
		minB = time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}

// Registry holds one Policy per ErrorKind, built once at startup from the
// configured (or default) max-attempts map.
type Registry struct {
	policies map[domain.ErrorKind]Policy
}

func NewRegistry(maxAttempts map[string]int) *Registry {
	kinds := []domain.ErrorKind{
		domain.ErrTimeout,
		domain.ErrDependencyUnavailable,
		domain.ErrDependencyError,
		domain.ErrRateLimited,
	}
	r := &Registry{policies: make(map[domain.ErrorKind]Policy, len(kinds))}
	for _, k := range kinds {
		r.policies[k] = NewPolicy(k, maxAttempts)
	}
	return r
}

// Decide reports whether the given record warrants a retry and, if so, the
// delay to wait before the next attempt.
func (r *Registry) Decide(rec *domain.ErrorRecord, attempts int) (retry bool, delay time.Duration) {
	if rec == nil {
		return false, 0
	}
	p, ok := r.policies[rec.Kind]
	if !ok {
		return false, 0
	}
	if !p.ShouldRetry(attempts, rec.Kind) {
		return false, 0
	}
	return true, p.NextDelay(attempts)
}
