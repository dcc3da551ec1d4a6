package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/domain"
)

var (
	errUnauthorized = &domain.Error{Code: "Auth.Unauthorized", Message: "a valid X-User-ID header is required", Type: domain.ErrorTypeUnauthorized}
	errForbidden    = &domain.Error{Code: "Auth.Forbidden", Message: "not allowed to act on this resource", Type: domain.ErrorTypeForbidden}
	errBadRequest   = &domain.Error{Code: "Request.Invalid", Message: "request is malformed", Type: domain.ErrorTypeValidation}
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps an error to its HTTP status. Unclassified errors are 500.
func statusFor(err error) (int, errorBody) {
	var derr *domain.Error
	if errors.As(err, &derr) {
		body := errorBody{Code: derr.Code, Message: derr.Message}
		switch derr.Type {
		case domain.ErrorTypeValidation:
			return http.StatusUnprocessableEntity, body
		case domain.ErrorTypeNotFound:
			return http.StatusNotFound, body
		case domain.ErrorTypeConflict:
			return http.StatusConflict, body
		case domain.ErrorTypeUnauthorized:
			return http.StatusUnauthorized, body
		case domain.ErrorTypeForbidden:
			return http.StatusForbidden, body
		}
	}

	switch {
	case errors.Is(err, database.ErrOrderNotFound):
		return http.StatusNotFound, errorBody{Code: "Order.NotFound", Message: err.Error()}
	case errors.Is(err, database.ErrPaymentNotFound):
		return http.StatusNotFound, errorBody{Code: "Payment.NotFound", Message: err.Error()}
	case errors.Is(err, database.ErrProductNotFound):
		return http.StatusNotFound, errorBody{Code: "Product.NotFound", Message: err.Error()}
	case errors.Is(err, database.ErrConcurrencyConflict):
		return http.StatusConflict, errorBody{Code: "Concurrency.Conflict", Message: "the resource was modified by another request; reload and retry"}
	case errors.Is(err, database.ErrInsufficientStock):
		return http.StatusConflict, errorBody{Code: "Product.InsufficientStock", Message: err.Error()}
	case errors.Is(err, database.ErrLockTimeout):
		return http.StatusConflict, errorBody{Code: "Product.Busy", Message: "product is being updated by another request; retry"}
	}

	return http.StatusInternalServerError, errorBody{Code: "Internal", Message: "internal server error"}
}

func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, body := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
