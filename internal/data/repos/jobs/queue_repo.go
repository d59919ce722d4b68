package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

// QueueRepo is the durable-queue dispatch table, descended from the
// teacher's ClaimNextRunnable (clause.Locking SKIP LOCKED dequeue) but
// generalized to add the priority-class ordering spec §4.6 requires:
// ORDER BY priority DESC, enqueued_at ASC.
type QueueRepo interface {
	Enqueue(dbc dbctx.Context, jobID uuid.UUID, priority types.Priority) error
	// Dequeue atomically claims the highest-priority, earliest-enqueued
	// visible entry not currently leased, and sets its lease.
	Dequeue(dbc dbctx.Context, leaseOwner string, leaseTTL time.Duration) (*types.QueueEntry, error)
	Renew(dbc dbctx.Context, jobID uuid.UUID, leaseOwner string, leaseTTL time.Duration) (bool, error)
	Ack(dbc dbctx.Context, jobID uuid.UUID) error
	// Nack releases the lease and makes the entry visible again after
	// backoff, incrementing Attempts; returns the new attempt count.
	Nack(dbc dbctx.Context, jobID uuid.UUID, visibleAfter time.Time) (int, error)
	// DeadLetter removes a queue entry from active dispatch once its attempt
	// count has exceeded DEAD_LETTER_MAX_ATTEMPTS; the job itself is marked
	// failed separately by the caller.
	DeadLetter(dbc dbctx.Context, jobID uuid.UUID) error
	Depth(dbc dbctx.Context) (int64, error)
}

type queueRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQueueRepo(db *gorm.DB, baseLog *logger.Logger) QueueRepo {
	return &queueRepo{db: db, log: baseLog.With("repo", "QueueRepo")}
}

func (r *queueRepo) Enqueue(dbc dbctx.Context, jobID uuid.UUID, priority types.Priority) error {
	entry := &types.QueueEntry{
		JobID:      jobID,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}
	return tx(dbc, r.db).WithContext(dbc.Ctx).Create(entry).Error
}

func (r *queueRepo) Dequeue(dbc dbctx.Context, leaseOwner string, leaseTTL time.Duration) (*types.QueueEntry, error) {
	transaction := tx(dbc, r.db)
	now := time.Now()

	var claimed *types.QueueEntry
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var entry types.QueueEntry
		err := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("visible_after <= ? AND (lease_expires_at IS NULL OR lease_expires_at < ?)", now, now).
			Order("priority DESC, enqueued_at ASC").
			Limit(1).
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		expires := now.Add(leaseTTL)
		err = txx.Model(&types.QueueEntry{}).
			Where("job_id = ?", entry.JobID).
			Updates(map[string]interface{}{
				"lease_owner":      leaseOwner,
				"lease_expires_at": expires,
			}).Error
		if err != nil {
			return err
		}
		entry.LeaseOwner = &leaseOwner
		entry.LeaseExpiresAt = &expires
		claimed = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *queueRepo) Renew(dbc dbctx.Context, jobID uuid.UUID, leaseOwner string, leaseTTL time.Duration) (bool, error) {
	expires := time.Now().Add(leaseTTL)
	res := tx(dbc, r.db).WithContext(dbc.Ctx).
		Model(&types.QueueEntry{}).
		Where("job_id = ? AND lease_owner = ?", jobID, leaseOwner).
		Update("lease_expires_at", expires)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *queueRepo) Ack(dbc dbctx.Context, jobID uuid.UUID) error {
	return tx(dbc, r.db).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Delete(&types.QueueEntry{}).Error
}

func (r *queueRepo) Nack(dbc dbctx.Context, jobID uuid.UUID, visibleAfter time.Time) (int, error) {
	transaction := tx(dbc, r.db)
	var attempts int
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Model(&types.QueueEntry{}).
			Where("job_id = ?", jobID).
			Updates(map[string]interface{}{
				"lease_owner":      nil,
				"lease_expires_at": nil,
				"visible_after":    visibleAfter,
				"attempts":         gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		var entry types.QueueEntry
		if err := txx.Where("job_id = ?", jobID).First(&entry).Error; err != nil {
			return err
		}
		attempts = entry.Attempts
		return nil
	})
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

// DeadLetter deletes the queue entry outright, the same terminal-removal
// idiom Ack uses for a successful completion: once an entry is
// dead-lettered it must never be dequeued again.
func (r *queueRepo) DeadLetter(dbc dbctx.Context, jobID uuid.UUID) error {
	return tx(dbc, r.db).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Delete(&types.QueueEntry{}).Error
}

func (r *queueRepo) Depth(dbc dbctx.Context) (int64, error) {
	var count int64
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Model(&types.QueueEntry{}).Count(&count).Error
	return count, err
}
