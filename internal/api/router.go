package api

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/safar/go-order-lifecycle/pkg/metrics"
)

type RouterConfig struct {
	AllowOrigins []string
	Metrics      *metrics.ServerMetrics
	Gatherer     prometheus.Gatherer
}

func NewRouter(h *Handler, cfg RouterConfig, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	if cfg.Metrics != nil {
		r.Use(requestMetrics(cfg.Metrics))
	}
	if len(cfg.AllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "If-Match", headerUserID, headerRole},
			ExposeHeaders:    []string{"ETag"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", h.Health)
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(cfg.Gatherer)))
	}
	r.POST("/webhooks/payments", h.PaymentCallback)

	v1 := r.Group("/v1", requireActor(logger))
	v1.POST("/orders", h.PlaceOrder)
	v1.GET("/orders", h.ListOrders)
	v1.GET("/orders/:id", h.GetOrder)
	v1.POST("/orders/:id/items", h.AddItem)
	v1.PATCH("/orders/:id/items/:itemId", h.UpdateItemQuantity)
	v1.DELETE("/orders/:id/items/:itemId", h.RemoveItem)
	v1.POST("/orders/:id/cancel", h.Cancel)
	v1.POST("/orders/:id/payments", h.SubmitPayment)
	v1.GET("/orders/:id/payments", h.ListPayments)
	v1.GET("/payments/:id", h.GetPayment)

	ops := v1.Group("/orders/:id", requireOperator(logger))
	ops.POST("/mark-paid", h.MarkPaid)
	ops.POST("/start-processing", h.StartProcessing)
	ops.POST("/ship", h.Ship)
	ops.POST("/deliver", h.Deliver)
	ops.POST("/return", h.Return)
	ops.POST("/refund", h.Refund)
	ops.POST("/partial-refund", h.PartialRefund)

	return r
}
