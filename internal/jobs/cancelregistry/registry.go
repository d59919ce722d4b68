// Package cancelregistry lets submission.Service.Cancel reach into an
// in-flight job run and tear it down, instead of only flipping a status
// column the worker might not notice until its next checkpoint.
//
// Grounded on the teacher-adjacent codeready-toolchain-tarsy's
// pkg/queue/pool.go: WorkerPool.activeSessions is a mutex-guarded
// map[sessionID]context.CancelFunc with Register/Unregister/Cancel
// methods; this is the same shape keyed by job_id instead of session_id.
package cancelregistry

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Registry holds one context.CancelFunc per in-flight job, so a cancel
// request issued from an HTTP handler (submission.Service.Cancel) can tear
// down the goroutine a worker is running that job in, on another
// goroutine entirely.
type Registry struct {
	mu     sync.RWMutex
	active map[uuid.UUID]context.CancelFunc
}

func New() *Registry {
	return &Registry{active: make(map[uuid.UUID]context.CancelFunc)}
}

// Register stores cancel under jobID, overwriting any prior entry (a job
// is dispatched at most once at a time, but a crashed worker's stale entry
// should never block a fresh dispatch from registering its own).
func (r *Registry) Register(jobID uuid.UUID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[jobID] = cancel
}

// Unregister removes jobID's entry once its run has finished, successfully
// or not. Safe to call even if jobID was never registered.
func (r *Registry) Unregister(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, jobID)
}

// Cancel triggers jobID's registered context.CancelFunc, if the job is
// currently running on this process. Returns false when no entry is
// found, e.g. the job is still queued (nothing to cancel yet) or already
// finished.
func (r *Registry) Cancel(jobID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cancel, ok := r.active[jobID]
	if !ok {
		return false
	}
	cancel()
	return true
}
