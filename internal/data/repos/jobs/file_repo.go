package jobs

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

// FileRepo backs the idempotent-upload-once invariant from spec §4.5:
// "upload is effectively at-most-once per logical name (idempotent by
// (job_id, kind, scene_index?, name))"; FindByLogicalName lets Uploader
// check before inserting, and the metadata row is only inserted after the
// remote PUT ack (enforced by the caller, not here).
type FileRepo interface {
	Insert(dbc dbctx.Context, f *types.FileMetadata) error
	FindByLogicalName(dbc dbctx.Context, jobID uuid.UUID, kind types.FileKind, logicalName string) (*types.FileMetadata, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.FileMetadata, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FileMetadata, error)
}

type fileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFileRepo(db *gorm.DB, baseLog *logger.Logger) FileRepo {
	return &fileRepo{db: db, log: baseLog.With("repo", "FileRepo")}
}

func (r *fileRepo) Insert(dbc dbctx.Context, f *types.FileMetadata) error {
	return tx(dbc, r.db).WithContext(dbc.Ctx).Create(f).Error
}

func (r *fileRepo) FindByLogicalName(dbc dbctx.Context, jobID uuid.UUID, kind types.FileKind, logicalName string) (*types.FileMetadata, error) {
	var f types.FileMetadata
	err := tx(dbc, r.db).WithContext(dbc.Ctx).
		Where("job_id = ? AND kind = ? AND logical_name = ?", jobID, kind, logicalName).
		First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (r *fileRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.FileMetadata, error) {
	var out []*types.FileMetadata
	err := tx(dbc, r.db).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *fileRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FileMetadata, error) {
	var f types.FileMetadata
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("file_id = ?", id).First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}
