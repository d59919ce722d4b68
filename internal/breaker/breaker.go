// Package breaker implements a per-dependency circuit breaker state machine,
// combining the consecutive-counter trip/reset logic of
// producer-backpressure's CircuitBreaker with the exponential, capped
// open-timeout growth the spec requires on repeated half-open failure.
package breaker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge-backend/internal/domain"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type Config struct {
	FailureThreshold  int
	SuccessThreshold  int
	OpenTimeout       time.Duration
	CallTimeout       time.Duration
	MaxOpenTimeout    time.Duration
	ExponentialBackoff bool
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		OpenTimeout:        30 * time.Second,
		CallTimeout:        30 * time.Second,
		MaxOpenTimeout:     5 * time.Minute,
		ExponentialBackoff: true,
	}
}

// Stats is a point-in-time snapshot suitable for exposing via metrics or an
// operator endpoint.
type Stats struct {
	Name              string
	State             State
	ConsecutiveFails  int
	ConsecutiveOK     int
	LastTransition    time.Time
	CurrentOpenTimeout time.Duration
}

// Breaker is a single named dependency's circuit breaker. Closed -> Open on
// consecutive_failures >= FailureThreshold; Open -> HalfOpen after
// CurrentOpenTimeout; HalfOpen allows exactly one in-flight probe; HalfOpen
// -> Closed after SuccessThreshold consecutive successes in the half-open
// probe, else -> Open with CurrentOpenTimeout doubled (capped at
// MaxOpenTimeout).
type Breaker struct {
	name string
	cfg  Config

	mu                 sync.Mutex
	state              State
	consecutiveFails   int
	consecutiveOK      int
	lastTransition     time.Time
	currentOpenTimeout time.Duration
	halfOpenInFlight   bool
	callsTotal         uint64
	successesTotal     uint64

	onTransition func(name string, from, to State)
}

func New(name string, cfg Config) *Breaker {
	b := &Breaker{
		name:               name,
		cfg:                cfg,
		state:              Closed,
		lastTransition:     time.Now(),
		currentOpenTimeout: cfg.OpenTimeout,
	}
	stateGauge.WithLabelValues(name).Set(float64(Closed))
	lastTransitionGauge.WithLabelValues(name).Set(float64(b.lastTransition.Unix()))
	successRateGauge.WithLabelValues(name).Set(1)
	return b
}

// OnTransition registers a callback invoked (outside the lock) whenever the
// breaker changes state. The Prometheus gauges do not depend on it:
// setState updates them directly.
func (b *Breaker) OnTransition(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a call may proceed right now, and if not, how long
// until the breaker will next allow a probe.
func (b *Breaker) Allow() (ok bool, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, 0
	case Open:
		elapsed := time.Since(b.lastTransition)
		if elapsed >= b.currentOpenTimeout {
			b.setState(HalfOpen)
			b.halfOpenInFlight = true
			return true, 0
		}
		return false, b.currentOpenTimeout - elapsed
	case HalfOpen:
		if b.halfOpenInFlight {
			return false, 0
		}
		b.halfOpenInFlight = true
		return true, 0
	default:
		return true, 0
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordCallLocked(true)

	switch b.state {
	case Closed:
		b.consecutiveFails = 0
	case HalfOpen:
		b.halfOpenInFlight = false
		b.consecutiveOK++
		if b.consecutiveOK >= b.cfg.SuccessThreshold {
			b.consecutiveFails = 0
			b.consecutiveOK = 0
			b.currentOpenTimeout = b.cfg.OpenTimeout
			b.setState(Closed)
		}
	case Open:
		// stray success after the call already timed out; ignore.
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordCallLocked(false)
	failuresTotal.WithLabelValues(b.name).Inc()

	switch b.state {
	case Closed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.setState(Open)
		}
	case HalfOpen:
		b.halfOpenInFlight = false
		b.consecutiveOK = 0
		if b.cfg.ExponentialBackoff {
			b.currentOpenTimeout *= 2
			if b.currentOpenTimeout > b.cfg.MaxOpenTimeout {
				b.currentOpenTimeout = b.cfg.MaxOpenTimeout
			}
		}
		b.setState(Open)
	case Open:
		// already open; the elapsed clock governs recovery.
	}
}

// recordCallLocked updates the success-rate gauge from a completed call's
// outcome. Must be called with b.mu held.
func (b *Breaker) recordCallLocked(success bool) {
	b.callsTotal++
	if success {
		b.successesTotal++
	}
	successRateGauge.WithLabelValues(b.name).Set(float64(b.successesTotal) / float64(b.callsTotal))
}

// setState must be called with b.mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastTransition = time.Now()
	stateGauge.WithLabelValues(b.name).Set(float64(to))
	lastTransitionGauge.WithLabelValues(b.name).Set(float64(b.lastTransition.Unix()))
	if b.onTransition != nil {
		fn, name := b.onTransition, b.name
		go fn(name, from, to)
	}
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:               b.name,
		State:              b.state,
		ConsecutiveFails:   b.consecutiveFails,
		ConsecutiveOK:      b.consecutiveOK,
		LastTransition:     b.lastTransition,
		CurrentOpenTimeout: b.currentOpenTimeout,
	}
}

// Call runs op under the breaker: fails fast with dependency_unavailable if
// open, bounds op's runtime by cfg.CallTimeout independent of any deadline
// the caller's own context carries, and records the outcome.
func (b *Breaker) Call(stage string, correlationID uuid.UUID, op func() error) *domain.ErrorRecord {
	ok, retryAfter := b.Allow()
	if !ok {
		ra := retryAfter
		return &domain.ErrorRecord{
			Kind:          domain.ErrDependencyUnavailable,
			Message:       b.name + " circuit open",
			Stage:         stage,
			Retryable:     true,
			RetryAfter:    &ra,
			CorrelationID: correlationID,
			TS:            time.Now(),
		}
	}

	done := make(chan error, 1)
	go func() { done <- op() }()

	select {
	case err := <-done:
		if err != nil {
			b.RecordFailure()
			return &domain.ErrorRecord{
				Kind:          domain.ErrDependencyError,
				Message:       err.Error(),
				Stage:         stage,
				Retryable:     true,
				CorrelationID: correlationID,
				TS:            time.Now(),
			}
		}
		b.RecordSuccess()
		return nil
	case <-time.After(b.cfg.CallTimeout):
		b.RecordFailure()
		return &domain.ErrorRecord{
			Kind:          domain.ErrTimeout,
			Message:       b.name + " call timed out",
			Stage:         stage,
			Retryable:     true,
			CorrelationID: correlationID,
			TS:            time.Now(),
		}
	}
}
