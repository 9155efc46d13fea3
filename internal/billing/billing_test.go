package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/PoetCoderJun/autocut-backend/internal/data/repos"
	"github.com/PoetCoderJun/autocut-backend/internal/data/repos/testutil"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/apierr"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	svc := NewService(gdb,
		log,
		repos.NewCouponRepo(gdb, log),
		repos.NewLedgerRepo(gdb, log),
		repos.NewUserRepo(gdb, log),
	)
	return svc, gdb
}

func seedUser(t *testing.T, gdb *gorm.DB, userID string) {
	t.Helper()
	require.NoError(t, gdb.Create(&domain.User{
		UserID: userID,
		Status: domain.UserStatusPendingCoupon,
	}).Error)
}

func seedCoupon(t *testing.T, gdb *gorm.DB, code string, credits int, expiresAt *time.Time) {
	t.Helper()
	require.NoError(t, gdb.Create(&domain.CouponCode{
		Code:      code,
		Credits:   credits,
		Status:    domain.CouponStatusActive,
		ExpiresAt: expiresAt,
	}).Error)
}

func codeOf(err error) string {
	return apierr.CodeOf(err)
}

func TestRedeemCouponHappyPath(t *testing.T) {
	svc, gdb := newTestService(t)
	ctx := context.Background()
	seedUser(t, gdb, "u1")
	seedCoupon(t, gdb, "CPN-AAAA1111", 5, nil)

	result, err := svc.RedeemCoupon(ctx, "u1", "CPN-AAAA1111")
	require.NoError(t, err)
	assert.False(t, result.AlreadyActivated)
	assert.True(t, result.CouponRedeemed)
	assert.Equal(t, 5, result.GrantedCredits)
	assert.Equal(t, 5, result.Balance)

	var user domain.User
	require.NoError(t, gdb.Where("user_id = ?", "u1").First(&user).Error)
	assert.Equal(t, domain.UserStatusActive, user.Status)
	assert.NotNil(t, user.ActivatedAt)

	var coupon domain.CouponCode
	require.NoError(t, gdb.Where("code = ?", "CPN-AAAA1111").First(&coupon).Error)
	assert.Equal(t, 1, coupon.UsedCount)
	assert.Equal(t, domain.CouponStatusDisabled, coupon.Status)

	var entries []domain.CreditLedgerEntry
	require.NoError(t, gdb.Where("idempotency_key = ?", "coupon:CPN-AAAA1111").Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Delta)
}

func TestRedeemCouponSecondAttemptExhausted(t *testing.T) {
	svc, gdb := newTestService(t)
	ctx := context.Background()
	seedUser(t, gdb, "u1")
	seedUser(t, gdb, "u2")
	seedCoupon(t, gdb, "CPN-ONCE", 3, nil)

	_, err := svc.RedeemCoupon(ctx, "u1", "CPN-ONCE")
	require.NoError(t, err)

	_, err = svc.RedeemCoupon(ctx, "u2", "CPN-ONCE")
	require.Error(t, err)
	assert.Equal(t, CodeCouponExhausted, codeOf(err))

	// Exactly one ledger entry for the coupon, and u2 got nothing.
	var count int64
	require.NoError(t, gdb.Model(&domain.CreditLedgerEntry{}).
		Where("idempotency_key = ?", "coupon:CPN-ONCE").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	balance, err := svc.Balance(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestRedeemCouponExpired(t *testing.T) {
	svc, gdb := newTestService(t)
	seedUser(t, gdb, "u1")
	past := time.Now().Add(-time.Hour)
	seedCoupon(t, gdb, "CPN-OLD", 3, &past)

	_, err := svc.RedeemCoupon(context.Background(), "u1", "CPN-OLD")
	require.Error(t, err)
	assert.Equal(t, CodeCouponExpired, codeOf(err))
}

func TestRedeemCouponInvalid(t *testing.T) {
	svc, gdb := newTestService(t)
	seedUser(t, gdb, "u1")

	_, err := svc.RedeemCoupon(context.Background(), "u1", "CPN-NOPE")
	require.Error(t, err)
	assert.Equal(t, CodeCouponInvalid, codeOf(err))
}

func TestChargeStep1SuccessIdempotent(t *testing.T) {
	svc, gdb := newTestService(t)
	ctx := context.Background()
	seedUser(t, gdb, "u1")
	seedCoupon(t, gdb, "CPN-FIVE", 5, nil)
	_, err := svc.RedeemCoupon(ctx, "u1", "CPN-FIVE")
	require.NoError(t, err)

	require.NoError(t, svc.ChargeStep1Success(ctx, "u1", "job_abc"))
	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, balance)

	// A re-run of the same job charges nothing more.
	require.NoError(t, svc.ChargeStep1Success(ctx, "u1", "job_abc"))
	balance, err = svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, balance)

	var count int64
	require.NoError(t, gdb.Model(&domain.CreditLedgerEntry{}).
		Where("idempotency_key = ?", "job:job_abc:step1_success").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestChargeStep1SuccessInsufficient(t *testing.T) {
	svc, gdb := newTestService(t)
	ctx := context.Background()
	seedUser(t, gdb, "u1")

	err := svc.ChargeStep1Success(ctx, "u1", "job_x")
	require.Error(t, err)
	assert.Equal(t, CodeInsufficient, codeOf(err))

	// The failed charge wrote nothing: balance stays zero, never negative.
	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, balance)

	var count int64
	require.NoError(t, gdb.Model(&domain.CreditLedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRequireBalance(t *testing.T) {
	svc, gdb := newTestService(t)
	ctx := context.Background()
	seedUser(t, gdb, "u1")

	err := svc.RequireBalance(ctx, "u1", 1)
	require.Error(t, err)
	assert.Equal(t, CodeInsufficient, codeOf(err))

	seedCoupon(t, gdb, "CPN-OK", 1, nil)
	_, err = svc.RedeemCoupon(ctx, "u1", "CPN-OK")
	require.NoError(t, err)
	assert.NoError(t, svc.RequireBalance(ctx, "u1", 1))
}
