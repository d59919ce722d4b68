// Package jobs holds the GORM-backed repositories over the job-orchestration
// domain models, grounded on the teacher's jobRunRepo (internal/data/repos/
// jobs/job_run.go, now split across job_repo.go/queue_repo.go/progress_repo.go/
// file_repo.go since this spec separates the queue-dispatch table from the
// job row itself).
package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

type JobRepo interface {
	Create(dbc dbctx.Context, job *types.Job) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	FindByIdempotencyKey(dbc dbctx.Context, userID uuid.UUID, key string) (*types.Job, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus applies updates only if the job's current
	// status is not in disallowedStatuses, a compare-and-set guard matching
	// the teacher's UpdateFieldsUnlessStatus.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []types.JobStatus, updates map[string]interface{}) (bool, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.Job, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func tx(dbc dbctx.Context, db *gorm.DB) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return db
}

func (r *jobRepo) Create(dbc dbctx.Context, job *types.Job) error {
	return tx(dbc, r.db).WithContext(dbc.Ctx).Create(job).Error
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	var job types.Job
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("job_id = ?", id).First(&job).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) FindByIdempotencyKey(dbc dbctx.Context, userID uuid.UUID, key string) (*types.Job, error) {
	if key == "" {
		return nil, nil
	}
	var job types.Job
	err := tx(dbc, r.db).WithContext(dbc.Ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return tx(dbc, r.db).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("job_id = ?", id).
		Updates(updates).Error
}

func (r *jobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []types.JobStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := tx(dbc, r.db).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("job_id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.Job, error) {
	var out []*types.Job
	q := tx(dbc, r.db).WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
