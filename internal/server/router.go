// Package server assembles the gin engine: middleware order is
// trace-context, CORS, request logging, metrics, then per-group auth.
package server

import (
	"github.com/gin-gonic/gin"

	"github.com/PoetCoderJun/autocut-backend/internal/http/handlers"
	"github.com/PoetCoderJun/autocut-backend/internal/http/middleware"
	"github.com/PoetCoderJun/autocut-backend/internal/http/response"
	"github.com/PoetCoderJun/autocut-backend/internal/observability"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthMiddleware *middleware.AuthMiddleware
	Metrics        *observability.Metrics

	JobsHandler    *handlers.JobsHandler
	StepsHandler   *handlers.StepsHandler
	RenderHandler  *handlers.RenderHandler
	CouponsHandler *handlers.CouponsHandler
	MeHandler      *handlers.MeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()

	router.Use(middleware.AttachTraceContext())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(cfg.Log))
	router.Use(middleware.Metrics(cfg.Metrics))
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		if cfg.Log != nil {
			cfg.Log.Error("panic recovered", "panic", recovered, "path", c.Request.URL.Path)
		}
		response.ErrorCode(c, "INTERNAL_ERROR", "internal error")
		c.Abort()
	}))

	router.GET("/healthcheck", handlers.HealthCheck)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	router.POST("/public/coupons/verify", cfg.CouponsHandler.VerifyCoupon)

	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())

	protected.GET("/me", cfg.MeHandler.GetMe)
	protected.POST("/auth/coupon/redeem", cfg.CouponsHandler.RedeemCoupon)

	protected.POST("/jobs", cfg.JobsHandler.CreateJob)
	protected.GET("/jobs/:id", cfg.JobsHandler.GetJob)
	protected.POST("/jobs/:id/oss-upload-url", cfg.JobsHandler.GetOSSUploadURL)
	protected.POST("/jobs/:id/audio-oss-ready", cfg.JobsHandler.AudioOSSReady)
	protected.POST("/jobs/:id/audio", cfg.JobsHandler.UploadAudio)
	protected.GET("/jobs/:id/download", cfg.JobsHandler.DownloadFinalVideo)

	protected.POST("/jobs/:id/step1/run", cfg.StepsHandler.Step1Run)
	protected.GET("/jobs/:id/step1", cfg.StepsHandler.Step1Get)
	protected.PUT("/jobs/:id/step1/confirm", cfg.StepsHandler.Step1Confirm)
	protected.POST("/jobs/:id/step2/run", cfg.StepsHandler.Step2Run)
	protected.GET("/jobs/:id/step2", cfg.StepsHandler.Step2Get)
	protected.PUT("/jobs/:id/step2/confirm", cfg.StepsHandler.Step2Confirm)

	protected.GET("/jobs/:id/render/config", cfg.RenderHandler.RenderConfig)

	return router
}
