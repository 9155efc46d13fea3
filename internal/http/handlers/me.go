package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/PoetCoderJun/autocut-backend/internal/billing"
	"github.com/PoetCoderJun/autocut-backend/internal/http/middleware"
	"github.com/PoetCoderJun/autocut-backend/internal/http/response"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

type MeHandler struct {
	log     *logger.Logger
	billing *billing.Service
}

func NewMeHandler(baseLog *logger.Logger, billingSvc *billing.Service) *MeHandler {
	return &MeHandler{log: baseLog.With("handler", "MeHandler"), billing: billingSvc}
}

// GET /me — the user row was already materialized by RequireAuth; this
// just attaches balance and recent ledger history.
func (h *MeHandler) GetMe(c *gin.Context) {
	user := middleware.CurrentUser(c)

	balance, err := h.billing.Balance(c.Request.Context(), user.UserID)
	if err != nil {
		h.log.Error("balance query failed", "error", err, "user_id", user.UserID)
		response.Error(c, err)
		return
	}
	recent, err := h.billing.Recent(c.Request.Context(), user.UserID, 20)
	if err != nil {
		h.log.Error("ledger query failed", "error", err, "user_id", user.UserID)
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{
		"user_id":      user.UserID,
		"email":        user.Email,
		"status":       user.Status,
		"activated_at": user.ActivatedAt,
		"credits": gin.H{
			"balance":       balance,
			"recent_ledger": recent,
		},
	})
}
