package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dealhub/escrow-backend/internal/config"
	"github.com/dealhub/escrow-backend/internal/http/handlers"
	"github.com/dealhub/escrow-backend/internal/http/middleware"
)

func SetupRouter(
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	walletHandler *handlers.WalletHandler,
	negotiationHandler *handlers.NegotiationHandler,
	orderHandler *handlers.OrderHandler,
	disputeHandler *handlers.DisputeHandler,
	notificationHandler *handlers.NotificationHandler,
	feeHandler *handlers.FeeHandler,
	jobsHandler *handlers.JobsHandler,
	auditHandler *handlers.AuditHandler,
	wsHandler *handlers.WSHandler,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.Identity())

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))

	// Все операции выполняются от имени пользователя из доверенных заголовков.
	protected := api.Group("/")
	protected.Use(middleware.RequireUser())
	{
		protected.GET("/ws", wsHandler.Handle)

		protected.GET("/wallet", walletHandler.GetBalance)
		protected.POST("/wallet/deposit", walletHandler.Deposit)
		protected.GET("/wallet/entries", walletHandler.ListEntries)

		protected.POST("/negotiations", negotiationHandler.Create)
		protected.GET("/negotiations/:id", negotiationHandler.Get)
		protected.POST("/negotiations/:id/decline", negotiationHandler.Decline)

		protected.POST("/orders", orderHandler.Create)
		protected.GET("/orders", orderHandler.List)
		protected.GET("/orders/:id", orderHandler.Get)
		protected.POST("/orders/:id/complete", orderHandler.MarkCompleted)
		protected.POST("/orders/:id/confirm", orderHandler.Confirm)
		protected.POST("/orders/:id/cancel", orderHandler.Cancel)
		protected.GET("/orders/:id/ledger", orderHandler.ListLedgerEntries)

		protected.POST("/orders/:id/dispute", disputeHandler.Open)
		protected.POST("/orders/:id/dispute/response", disputeHandler.Respond)
		protected.GET("/orders/:id/dispute/evidence", disputeHandler.ListEvidence)

		protected.GET("/notifications", notificationHandler.List)
		protected.GET("/notifications/unread-count", notificationHandler.CountUnread)
		protected.POST("/notifications/:id/read", notificationHandler.MarkAsRead)
	}

	// Операции доверенной третьей стороны: арбитраж, ставки, ручной
	// запуск фоновых задач.
	admin := api.Group("/admin")
	admin.Use(middleware.RequireUser(), middleware.RequireAdmin())
	{
		admin.POST("/orders/:id/dispute/resolve", disputeHandler.Resolve)
		admin.GET("/orders/:id/audit", auditHandler.ListByOrder)

		admin.GET("/fees", feeHandler.Get)
		admin.PUT("/fees", feeHandler.Update)

		admin.POST("/jobs/auto-confirm", jobsHandler.RunAutoConfirm)
		admin.POST("/jobs/expiration", jobsHandler.RunExpiration)
	}

	return r
}
