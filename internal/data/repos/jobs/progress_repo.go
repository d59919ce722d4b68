package jobs

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

// ProgressRepo persists the append-only ProgressEvent log backing
// internal/progress.Reporter; per spec §8 "ProgressEvent order per job is
// total and equals emission order", so ListByJob is always ordered by ts.
type ProgressRepo interface {
	Append(dbc dbctx.Context, ev *types.ProgressEvent) error
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.ProgressEvent, error)
}

type progressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProgressRepo(db *gorm.DB, baseLog *logger.Logger) ProgressRepo {
	return &progressRepo{db: db, log: baseLog.With("repo", "ProgressRepo")}
}

func (r *progressRepo) Append(dbc dbctx.Context, ev *types.ProgressEvent) error {
	return tx(dbc, r.db).WithContext(dbc.Ctx).Create(ev).Error
}

func (r *progressRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.ProgressEvent, error) {
	var out []*types.ProgressEvent
	err := tx(dbc, r.db).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("ts ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
