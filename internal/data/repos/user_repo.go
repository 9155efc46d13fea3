package repos

import (
	"time"

	"gorm.io/gorm"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/dbctx"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

type UserRepo interface {
	// GetOrCreate materializes a user row lazily on first sight of a JWT
	// subject, refreshing the stored email
	// if the token carries a new one.
	GetOrCreate(dbc dbctx.Context, userID, email string) (*domain.User, error)
	GetByID(dbc dbctx.Context, userID string) (*domain.User, error)
	// Activate flips a user to ACTIVE with activated_at=now and reports
	// whether the user was already ACTIVE beforehand.
	Activate(dbc dbctx.Context, userID string, now time.Time) (alreadyActive bool, err error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (r *userRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *userRepo) GetOrCreate(dbc dbctx.Context, userID, email string) (*domain.User, error) {
	tx := r.tx(dbc).WithContext(dbc.Context())

	var user domain.User
	err := tx.Where("user_id = ?", userID).First(&user).Error
	switch {
	case err == nil:
		if email != "" && email != user.Email {
			user.Email = email
			if err := tx.Model(&user).Update("email", email).Error; err != nil {
				return nil, err
			}
		}
		return &user, nil
	case err != gorm.ErrRecordNotFound:
		return nil, err
	}

	user = domain.User{
		UserID: userID,
		Email:  email,
		Status: domain.UserStatusPendingCoupon,
	}
	if err := tx.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) GetByID(dbc dbctx.Context, userID string) (*domain.User, error) {
	var user domain.User
	if err := r.tx(dbc).WithContext(dbc.Context()).Where("user_id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) Activate(dbc dbctx.Context, userID string, now time.Time) (bool, error) {
	user, err := r.GetByID(dbc, userID)
	if err != nil {
		return false, err
	}
	if user.Status == domain.UserStatusActive {
		return true, nil
	}
	return false, r.tx(dbc).WithContext(dbc.Context()).
		Model(&domain.User{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"status":       domain.UserStatusActive,
			"activated_at": now,
		}).Error
}
