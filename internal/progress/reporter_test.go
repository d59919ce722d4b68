package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	jobsrepo "github.com/clipforge/clipforge-backend/internal/data/repos/jobs"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

type fakeProgressRepo struct {
	mu     sync.Mutex
	events []*types.ProgressEvent
}

func (f *fakeProgressRepo) Append(_ dbctx.Context, ev *types.ProgressEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeProgressRepo) ListByJob(_ dbctx.Context, jobID uuid.UUID) ([]*types.ProgressEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ProgressEvent
	for _, e := range f.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeProgressRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

var _ jobsrepo.ProgressRepo = (*fakeProgressRepo)(nil)

func newTestReporter(t *testing.T) (*Reporter, *fakeProgressRepo, *Hub) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	repo := &fakeProgressRepo{}
	hub := NewHub(log)
	return NewReporter(repo, hub, log), repo, hub
}

func TestReporterPersistsAndBroadcasts(t *testing.T) {
	r, repo, hub := newTestReporter(t)
	jobID := uuid.New()
	client := hub.NewClient(jobID)

	r.Report(jobID, "planning", 10, "starting", types.SeverityInfo)

	if repo.count() != 1 {
		t.Fatalf("expected one persisted event, got %d", repo.count())
	}
	select {
	case msg := <-client.Outbound:
		if msg.Stage != "planning" || msg.Percentage != 10 {
			t.Fatalf("unexpected broadcast message: %+v", msg)
		}
	default:
		t.Fatalf("expected the subscriber to receive the broadcast")
	}
}

func TestReporterCoalescesRapidWritesForSameStage(t *testing.T) {
	r, repo, _ := newTestReporter(t)
	jobID := uuid.New()

	r.Report(jobID, "rendering", 1, "a", types.SeverityInfo)
	r.Report(jobID, "rendering", 2, "b", types.SeverityInfo)
	r.Report(jobID, "rendering", 3, "c", types.SeverityInfo)

	if repo.count() != 1 {
		t.Fatalf("expected only the first write within the coalesce window to persist, got %d", repo.count())
	}
}

func TestReporterPersistsAgainAfterCoalesceWindowElapses(t *testing.T) {
	r, repo, _ := newTestReporter(t)
	jobID := uuid.New()

	r.Report(jobID, "rendering", 1, "a", types.SeverityInfo)
	time.Sleep(CoalesceWindow + 10*time.Millisecond)
	r.Report(jobID, "rendering", 2, "b", types.SeverityInfo)

	if repo.count() != 2 {
		t.Fatalf("expected a second persisted event after the coalesce window elapsed, got %d", repo.count())
	}
}

func TestReporterDoesNotCoalesceAcrossDifferentStages(t *testing.T) {
	r, repo, _ := newTestReporter(t)
	jobID := uuid.New()

	r.Report(jobID, "planning", 50, "half done", types.SeverityInfo)
	r.Report(jobID, "rendering", 0, "starting", types.SeverityInfo)

	if repo.count() != 2 {
		t.Fatalf("expected both stages to persist independently, got %d", repo.count())
	}
}

func TestReporterBroadcastsEvenWhenCoalesced(t *testing.T) {
	r, _, hub := newTestReporter(t)
	jobID := uuid.New()
	client := hub.NewClient(jobID)

	r.Report(jobID, "rendering", 1, "a", types.SeverityInfo)
	<-client.Outbound
	r.Report(jobID, "rendering", 2, "b", types.SeverityInfo)

	select {
	case msg := <-client.Outbound:
		if msg.Percentage != 2 {
			t.Fatalf("expected the coalesced write to still broadcast, got %+v", msg)
		}
	default:
		t.Fatalf("expected a broadcast for the second, coalesced write")
	}
}

func TestReporterToleratesNilRepo(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	r := NewReporter(nil, nil, log)
	r.Report(uuid.New(), "planning", 1, "a", types.SeverityInfo)
}
