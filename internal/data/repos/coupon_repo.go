package repos

import (
	"gorm.io/gorm"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/dbctx"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

type CouponRepo interface {
	GetByCode(dbc dbctx.Context, code string) (*domain.CouponCode, error)
	// MarkUsed performs the conditional UPDATE coupon_codes SET used_count=1,
	// status='DISABLED' WHERE code=? AND status='ACTIVE' AND used_count=0.
	// It reports whether this call's UPDATE affected a
	// row — false means some other transaction already won the race (or the
	// coupon was already exhausted).
	MarkUsed(dbc dbctx.Context, code string) (bool, error)
}

type couponRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCouponRepo(db *gorm.DB, baseLog *logger.Logger) CouponRepo {
	return &couponRepo{db: db, log: baseLog.With("repo", "CouponRepo")}
}

func (r *couponRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *couponRepo) GetByCode(dbc dbctx.Context, code string) (*domain.CouponCode, error) {
	q := r.tx(dbc).WithContext(dbc.Context())
	if dbc.Tx != nil {
		// Inside a redemption transaction, hold the row until commit so the
		// validate-then-update pair can't interleave with another redeemer.
		q = q.Clauses(lockingClause())
	}
	var coupon domain.CouponCode
	if err := q.Where("code = ?", code).First(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *couponRepo) MarkUsed(dbc dbctx.Context, code string) (bool, error) {
	res := r.tx(dbc).WithContext(dbc.Context()).
		Model(&domain.CouponCode{}).
		Where("code = ? AND status = ? AND used_count = 0", code, domain.CouponStatusActive).
		Updates(map[string]any{
			"used_count": 1,
			"status":     domain.CouponStatusDisabled,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
