// Package billing implements the double-entry credit ledger: coupon
// redemption and STEP1 credit consumption, every grant or spend its own
// signed row, deduplicated solely by the ledger's idempotency_key unique
// constraint.
package billing

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/PoetCoderJun/autocut-backend/internal/data/repos"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/apierr"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/dbctx"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

const (
	CodeCouponInvalid   = "COUPON_CODE_INVALID"
	CodeCouponExpired   = "COUPON_CODE_EXPIRED"
	CodeCouponExhausted = "COUPON_CODE_EXHAUSTED"
	CodeInsufficient    = "INSUFFICIENT_CREDITS"
)

// Step1ConsumptionAmount is the fixed credit cost of one successful STEP1
// run.
const Step1ConsumptionAmount = 1

type Service struct {
	db      *gorm.DB
	log     *logger.Logger
	coupons repos.CouponRepo
	ledger  repos.LedgerRepo
	users   repos.UserRepo
}

func NewService(db *gorm.DB, baseLog *logger.Logger, coupons repos.CouponRepo, ledger repos.LedgerRepo, users repos.UserRepo) *Service {
	return &Service{db: db, log: baseLog.With("service", "BillingService"), coupons: coupons, ledger: ledger, users: users}
}

// RedeemResult is the redemption response:
// {already_activated, coupon_redeemed, granted_credits, balance}.
type RedeemResult struct {
	AlreadyActivated bool `json:"already_activated"`
	CouponRedeemed   bool `json:"coupon_redeemed"`
	GrantedCredits   int  `json:"granted_credits"`
	Balance          int  `json:"balance"`
}

// RedeemCoupon validates the coupon, conditionally flips
// used_count 0->1 and status->DISABLED, appends a ledger entry keyed by
// "coupon:<CODE>" so retries of the same request are free, activates the
// user, and returns the resulting balance — all in one transaction.
func (s *Service) RedeemCoupon(ctx context.Context, userID, code string) (*RedeemResult, error) {
	var result RedeemResult

	err := s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: txx}

		coupon, err := s.coupons.GetByCode(dbc, code)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return apierr.New(422, CodeCouponInvalid, fmt.Errorf("邀请码不存在"))
			}
			return err
		}
		now := time.Now()
		if coupon.Expired(now) {
			return apierr.New(422, CodeCouponExpired, fmt.Errorf("邀请码已过期"))
		}
		if coupon.Exhausted() {
			return apierr.New(422, CodeCouponExhausted, fmt.Errorf("邀请码已被使用"))
		}

		won, err := s.coupons.MarkUsed(dbc, code)
		if err != nil {
			return err
		}
		if !won {
			return apierr.New(422, CodeCouponExhausted, fmt.Errorf("邀请码已被使用"))
		}

		idempotencyKey := fmt.Sprintf("coupon:%s", code)
		entry := &domain.CreditLedgerEntry{
			UserID:         userID,
			Delta:          coupon.Credits,
			Reason:         domain.LedgerReasonCouponRedeem,
			IdempotencyKey: idempotencyKey,
		}
		_, created, err := s.ledger.AppendEntry(dbc, entry)
		if err != nil {
			return err
		}
		if !created {
			return apierr.New(422, CodeCouponExhausted, fmt.Errorf("邀请码已被使用"))
		}
		result.CouponRedeemed = true
		result.GrantedCredits = coupon.Credits

		alreadyActive, err := s.users.Activate(dbc, userID, now)
		if err != nil {
			return err
		}
		result.AlreadyActivated = alreadyActive

		balance, err := s.ledger.Balance(dbc, userID)
		if err != nil {
			return err
		}
		result.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ChargeStep1Success inserts a ledger row
// (user_id, -1, JOB_STEP1_SUCCESS, job_id, 'job:<id>:step1_success') if one
// doesn't already exist for this job. Returns apierr(402, INSUFFICIENT_CREDITS)
// if the resulting balance would go negative; the ledger entry is never
// written in that case. Safe to call repeatedly for the same job — a prior
// success is a no-op (idempotent re-run, e.g. after a worker crash).
func (s *Service) ChargeStep1Success(ctx context.Context, userID, jobID string) error {
	return s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: txx}
		idempotencyKey := fmt.Sprintf("job:%s:step1_success", jobID)

		var prior int64
		if err := txx.Model(&domain.CreditLedgerEntry{}).
			Where("idempotency_key = ?", idempotencyKey).Count(&prior).Error; err != nil {
			return err
		}
		if prior > 0 {
			return nil
		}

		balance, err := s.ledger.Balance(dbc, userID)
		if err != nil {
			return err
		}
		if balance-Step1ConsumptionAmount < 0 {
			return apierr.New(402, CodeInsufficient, fmt.Errorf("insufficient credits: have %d, need %d", balance, Step1ConsumptionAmount))
		}

		entry := &domain.CreditLedgerEntry{
			UserID:         userID,
			Delta:          -Step1ConsumptionAmount,
			Reason:         domain.LedgerReasonJobStep1Success,
			JobID:          &jobID,
			IdempotencyKey: idempotencyKey,
		}
		_, _, err = s.ledger.AppendEntry(dbc, entry)
		return err
	})
}

func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	return s.ledger.Balance(dbctx.Context{Ctx: ctx}, userID)
}

// RequireBalance is the read-only pre-check the worker (and the step1/run
// handler) runs before expensive stage work starts: it never writes, so the
// transactional charge remains the authority.
func (s *Service) RequireBalance(ctx context.Context, userID string, required int) error {
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if balance < required {
		return apierr.New(402, CodeInsufficient, fmt.Errorf("额度不足，请先兑换邀请码后重试"))
	}
	return nil
}

func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]*domain.CreditLedgerEntry, error) {
	return s.ledger.Recent(dbctx.Context{Ctx: ctx}, userID, limit)
}
