package api

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/service"
	"github.com/safar/go-order-lifecycle/pkg/metrics"
)

const (
	headerUserID = "X-User-ID"
	headerRole   = "X-Actor-Role"
	roleOperator = "operator"

	ctxUserID   = "user_id"
	ctxOperator = "operator"
)

// requireActor trusts an identity already verified upstream and attaches it to the request
// context for audit fields.
func requireActor(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.GetHeader(headerUserID))
		if err != nil || userID == uuid.Nil {
			writeError(c, logger, errUnauthorized)
			return
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxOperator, c.GetHeader(headerRole) == roleOperator)
		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), userID.String()))
		c.Next()
	}
}

func requireOperator(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ctxOperator) {
			writeError(c, logger, errForbidden)
			return
		}
		c.Next()
	}
}

func actorID(c *gin.Context) uuid.UUID {
	v, _ := c.Get(ctxUserID)
	id, _ := v.(uuid.UUID)
	return id
}

func requestMetrics(m *metrics.ServerMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		m.Requests.WithLabelValues(handler, strconv.Itoa(c.Writer.Status())).Inc()
		m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
