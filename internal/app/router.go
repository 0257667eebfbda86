// internal/app/router.go
package app

import (
	downloadHandler "github.com/D-7J/beast-downloader-bot/internal/handlers/downloads"
	eventsHandler "github.com/D-7J/beast-downloader-bot/internal/handlers/events"
	planHandler "github.com/D-7J/beast-downloader-bot/internal/handlers/plans"
	subscriptionHandler "github.com/D-7J/beast-downloader-bot/internal/handlers/subscriptions"
	"github.com/D-7J/beast-downloader-bot/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	DownloadHandler     *downloadHandler.DownloadHandler
	PlanHandler         *planHandler.PlanHandler
	SubscriptionHandler *subscriptionHandler.SubscriptionHandler
	EventsHandler       *eventsHandler.EventsHandler
	AuthMiddleware      *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	r.Use(middleware.RecoveryMiddleware(logger))

	api := r.Group("/api/v1")

	// ==================== Health & Metrics ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ==================== WebSocket ====================
	r.GET("/ws", h.EventsHandler.HandleConnection)

	// ==================== Public ====================
	api.GET("/plans", h.PlanHandler.List)

	// ==================== Service-authenticated ====================
	protected := api.Group("")
	protected.Use(h.AuthMiddleware.Auth())
	{
		protected.POST("/downloads", h.DownloadHandler.Submit)
		protected.GET("/downloads/:id", h.DownloadHandler.Get)
		protected.POST("/downloads/:id/cancel", h.DownloadHandler.Cancel)
		protected.GET("/usage/:user_id", h.DownloadHandler.Usage)

		protected.GET("/subscriptions/:user_id", h.SubscriptionHandler.Get)
		protected.POST("/payments/confirm", h.SubscriptionHandler.ConfirmPayment)
	}
}
