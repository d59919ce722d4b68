// Package clock is the injected time and ID source spec §4.1 names as a
// mandatory component: the job runtime context (correlation IDs, lifecycle
// timestamps), the worker (lease-owner names, nack visibility deadlines) and
// the submission service (job IDs, error correlation IDs, cancellation time)
// read time and mint IDs through this interface instead of calling
// time.Now/uuid.New directly, so those paths can be driven deterministically
// in tests. Lease expiry times in data/repos/jobs.QueueRepo, the breaker and
// the progress reporter call time.Now directly.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock is the minimal time+ID source orchestration logic depends on.
type Clock interface {
	Now() time.Time
	NewID() uuid.UUID
}

type systemClock struct{}

// SystemClock is the production Clock: unadorned time.Now/uuid.New.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time   { return time.Now() }
func (systemClock) NewID() uuid.UUID { return uuid.New() }

// FakeClock is a deterministic Clock for tests: Now only changes when Set
// or Advance is called, and NewID draws from a pre-seeded list before
// falling back to uuid.New, so a test can assert on exact IDs when it
// cares to and ignore them otherwise.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
	ids []uuid.UUID
	idx int
}

// NewFakeClock starts the clock at now, optionally seeded with IDs NewID
// will hand out in order.
func NewFakeClock(now time.Time, ids ...uuid.UUID) *FakeClock {
	return &FakeClock{now: now, ids: ids}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set pins the clock to t.
func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Advance moves the clock forward by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *FakeClock) NewID() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx < len(f.ids) {
		id := f.ids[f.idx]
		f.idx++
		return id
	}
	return uuid.New()
}
