package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"kiraya/internal/infra/config"
	"kiraya/internal/infra/obs"
)

type Handlers struct {
	Booking BookingHandler
	Payment PaymentHandler
	Pricing PricingHandler
	Webhook WebhookHandler
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, metrics *obs.Metrics, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	if metrics != nil {
		router.Use(metrics.GinMiddleware())
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key", "X-User-ID", "X-User-Role"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if metrics != nil {
		router.GET("/metrics", metrics.Handler())
	}

	api := router.Group("/api/v1")

	api.POST("/bookings", h.Booking.Create)
	api.GET("/bookings/:id", h.Booking.Get)
	api.POST("/bookings/:id/approve", h.Booking.Approve)
	api.POST("/bookings/:id/reject", h.Booking.Reject)
	api.POST("/bookings/:id/cancel", h.Booking.Cancel)
	api.POST("/bookings/:id/complete", h.Booking.Complete)
	api.GET("/me/bookings", h.Booking.ListMine)
	api.GET("/host/bookings", h.Booking.ListHost)

	api.POST("/payments/initiate", h.Payment.Initiate)
	api.GET("/payments/:id/status", h.Payment.Status)
	api.POST("/payments/:id/refund", h.Payment.Refund)
	api.POST("/payments/:id/retry", h.Payment.Retry)

	api.GET("/pricing/quote", h.Pricing.Quote)

	router.POST("/webhooks/mobilemoney", h.Webhook.MobileMoneyWebhook)
	router.POST("/webhooks/card", h.Webhook.CardWebhook)

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
