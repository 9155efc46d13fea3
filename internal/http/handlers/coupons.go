package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/PoetCoderJun/autocut-backend/internal/billing"
	"github.com/PoetCoderJun/autocut-backend/internal/coupons"
	"github.com/PoetCoderJun/autocut-backend/internal/data/repos"
	"github.com/PoetCoderJun/autocut-backend/internal/http/middleware"
	"github.com/PoetCoderJun/autocut-backend/internal/http/response"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/dbctx"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

type CouponsHandler struct {
	log     *logger.Logger
	billing *billing.Service
	coupons repos.CouponRepo
	sheet   coupons.SheetSource // nil unless a legacy CSV sheet is configured
}

func NewCouponsHandler(baseLog *logger.Logger, billingSvc *billing.Service, couponRepo repos.CouponRepo, sheet coupons.SheetSource) *CouponsHandler {
	return &CouponsHandler{
		log:     baseLog.With("handler", "CouponsHandler"),
		billing: billingSvc,
		coupons: couponRepo,
		sheet:   sheet,
	}
}

type couponRequest struct {
	Code string `json:"code" binding:"required"`
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// POST /public/coupons/verify — preview a coupon without consuming it.
func (h *CouponsHandler) VerifyCoupon(c *gin.Context) {
	var body couponRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ErrorCode(c, "COUPON_CODE_INVALID", "兑换码不能为空")
		return
	}
	code := normalizeCouponCode(body.Code)
	if code == "" {
		response.ErrorCode(c, "COUPON_CODE_INVALID", "兑换码不能为空")
		return
	}

	coupon, err := h.coupons.GetByCode(dbctx.Context{Ctx: c.Request.Context()}, code)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			h.verifyFromSheet(c, code)
			return
		}
		h.log.Error("coupon lookup failed", "error", err)
		response.ErrorCode(c, "COUPON_CODE_INVALID", "兑换码服务暂不可用，请稍后再试")
		return
	}
	if coupon.Expired(time.Now()) {
		response.ErrorCode(c, "COUPON_CODE_EXPIRED", "兑换码已过期")
		return
	}
	if coupon.Exhausted() {
		response.ErrorCode(c, "COUPON_CODE_EXHAUSTED", "兑换码已被使用")
		return
	}
	response.OK(c, gin.H{"valid": true, "code": coupon.Code, "credits": coupon.Credits})
}

// verifyFromSheet is the legacy CSV fallback: consulted only when the code
// is absent from coupon_codes and a sheet source is configured.
func (h *CouponsHandler) verifyFromSheet(c *gin.Context, code string) {
	if h.sheet == nil {
		response.ErrorCode(c, "COUPON_CODE_INVALID", "兑换码无效，请检查后重试")
		return
	}
	item, ok, err := h.sheet.Lookup(code)
	if err != nil {
		h.log.Warn("coupon sheet lookup failed", "error", err)
		response.ErrorCode(c, "COUPON_CODE_INVALID", "兑换码服务暂不可用，请稍后再试")
		return
	}
	if !ok || item.Status != "ACTIVE" {
		response.ErrorCode(c, "COUPON_CODE_INVALID", "兑换码无效，请检查后重试")
		return
	}
	response.OK(c, gin.H{"valid": true, "code": item.Code, "credits": item.Credits})
}

// POST /auth/coupon/redeem — atomic activation + credit grant.
func (h *CouponsHandler) RedeemCoupon(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var body couponRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ErrorCode(c, "COUPON_CODE_INVALID", "兑换码不能为空")
		return
	}
	code := normalizeCouponCode(body.Code)
	if code == "" {
		response.ErrorCode(c, "COUPON_CODE_INVALID", "兑换码不能为空")
		return
	}

	result, err := h.billing.RedeemCoupon(c.Request.Context(), user.UserID, code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
