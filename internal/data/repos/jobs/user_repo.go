package jobs

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

// UserRepo tracks the trusted user_id the auth middleware hands the core;
// per spec §6.1 the core never authenticates, it only needs a row to join
// against for the admin-or-owner authorization rule.
type UserRepo interface {
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.User, error)
	// EnsureExists upserts a bare User row for a user_id seen for the first
	// time, defaulting to UserRole(user); the external auth layer is the
	// source of truth for role, so a later EnsureExists never downgrades it.
	EnsureExists(dbc dbctx.Context, id uuid.UUID, role types.UserRole) (*types.User, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (r *userRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.User, error) {
	var u types.User
	err := tx(dbc, r.db).WithContext(dbc.Ctx).Where("user_id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) EnsureExists(dbc dbctx.Context, id uuid.UUID, role types.UserRole) (*types.User, error) {
	u := &types.User{UserID: id, Role: role}
	err := tx(dbc, r.db).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(u).Error
	if err != nil {
		return nil, err
	}
	return r.GetByID(dbc, id)
}
