package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/service"
)

type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

func NewHandler(svc *service.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) fail(c *gin.Context, err error) {
	writeError(c, h.logger, err)
}

// bind accepts an empty body so commands with only optional fields can be posted bare.
func (h *Handler) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, errBadRequest.Withf("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) param(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.fail(c, errBadRequest.Withf("%s must be a UUID", name))
		return uuid.Nil, false
	}
	return id, true
}

// orderRef reads the expected version from If-Match. A missing header skips the check.
func (h *Handler) orderRef(c *gin.Context) (service.OrderRef, bool) {
	id, ok := h.param(c, "id")
	if !ok {
		return service.OrderRef{}, false
	}

	tag := strings.Trim(strings.TrimPrefix(c.GetHeader("If-Match"), "W/"), `"`)
	if tag == "" {
		return service.OrderRef{ID: id}, true
	}
	version, err := strconv.Atoi(tag)
	if err != nil || version < 1 {
		h.fail(c, errBadRequest.Withf("If-Match must carry an order version"))
		return service.OrderRef{}, false
	}
	return service.OrderRef{ID: id, Version: version}, true
}

// authorizeOrder lets the owner or an operator act on the order.
func (h *Handler) authorizeOrder(c *gin.Context, orderID uuid.UUID) bool {
	o, err := h.svc.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.fail(c, err)
		return false
	}
	if o.UserID() != actorID(c) && !c.GetBool(ctxOperator) {
		h.fail(c, errForbidden)
		return false
	}
	return true
}

func (h *Handler) writeOrder(c *gin.Context, status int, o *domain.Order) {
	c.Header("ETag", strconv.Quote(strconv.Itoa(o.Version())))
	c.JSON(status, newOrderResponse(o))
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) PlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if !h.bind(c, &req) {
		return
	}

	lines := make([]service.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, toLineItem(it))
	}

	o, err := h.svc.PlaceOrder(c.Request.Context(), service.PlaceOrderInput{
		UserID:          actorID(c),
		BillingAddress:  req.BillingAddress.toDomain(),
		ShippingAddress: req.ShippingAddress.toDomain(),
		Items:           lines,
		Tax:             req.Tax,
		ShippingCost:    req.ShippingCost,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.writeOrder(c, http.StatusCreated, o)
}

func toLineItem(it lineItemRequest) service.LineItem {
	line := service.LineItem{ProductID: it.ProductID, Quantity: it.Quantity, Attributes: it.Attributes}
	if it.VariantID != nil {
		line.VariantID = uuid.NullUUID{UUID: *it.VariantID, Valid: true}
	}
	return line
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := h.param(c, "id")
	if !ok {
		return
	}
	o, err := h.svc.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if o.UserID() != actorID(c) && !c.GetBool(ctxOperator) {
		h.fail(c, errForbidden)
		return
	}
	h.writeOrder(c, http.StatusOK, o)
}

func (h *Handler) ListOrders(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(c, errBadRequest.Withf("limit must be a number"))
			return
		}
		limit = n
	}

	page, err := h.svc.ListOrders(c.Request.Context(), actorID(c), c.Query("cursor"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// orderCommand runs fn for an order the caller may act on and renders the result.
func (h *Handler) orderCommand(c *gin.Context, fn func(service.OrderRef) (*domain.Order, error)) {
	ref, ok := h.orderRef(c)
	if !ok || !h.authorizeOrder(c, ref.ID) {
		return
	}
	o, err := fn(ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.writeOrder(c, http.StatusOK, o)
}

func (h *Handler) AddItem(c *gin.Context) {
	var req lineItemRequest
	if !h.bind(c, &req) {
		return
	}
	h.orderCommand(c, func(ref service.OrderRef) (*domain.Order, error) {
		return h.svc.AddItem(c.Request.Context(), ref, toLineItem(req))
	})
}

func (h *Handler) UpdateItemQuantity(c *gin.Context) {
	itemID, ok := h.param(c, "itemId")
	if !ok {
		return
	}
	var req updateQuantityRequest
	if !h.bind(c, &req) {
		return
	}
	h.orderCommand(c, func(ref service.OrderRef) (*domain.Order, error) {
		return h.svc.UpdateItemQuantity(c.Request.Context(), ref, itemID, req.Quantity)
	})
}

func (h *Handler) RemoveItem(c *gin.Context) {
	itemID, ok := h.param(c, "itemId")
	if !ok {
		return
	}
	h.orderCommand(c, func(ref service.OrderRef) (*domain.Order, error) {
		return h.svc.RemoveItem(c.Request.Context(), ref, itemID)
	})
}

func (h *Handler) Cancel(c *gin.Context) {
	var req reasonRequest
	if !h.bind(c, &req) {
		return
	}
	h.orderCommand(c, func(ref service.OrderRef) (*domain.Order, error) {
		return h.svc.Cancel(c.Request.Context(), ref, req.Reason)
	})
}

func (h *Handler) MarkPaid(c *gin.Context) {
	h.orderCommand(c, func(ref service.OrderRef) (*domain.Order, error) {
		return h.svc.MarkPaid(c.Request.Context(), ref)
	})
}

func (h *Handler) StartProcessing(c *gin.Context) {
	h.orderCommand(c, func(ref service.OrderRef) (*domain.Order, error) {
		return h.svc.StartProcessing(c.Request.Context(), ref)
	})
}

func (h *Handler) Ship(c *gin.Context) {
	h.orderCommand(c, func(ref service.OrderRef) (*domain.Order, error) {
		return h.svc.Ship(c.Request.Context(), ref)
	})
}

func (h *Handler) Deliver(c *gin.Context) {
	h.orderCommand(c, func(ref service.OrderRef) (*domain.Order, error) {
		return h.svc.Deliver(c.Request.Context(), ref)
	})
}

func (h *Handler) Return(c *gin.Context) {
	var req reasonRequest
	if !h.bind(c, &req) {
		return
	}
	h.orderCommand(c, func(ref service.OrderRef) (*domain.Order, error) {
		return h.svc.Return(c.Request.Context(), ref, req.Reason)
	})
}

func (h *Handler) Refund(c *gin.Context) {
	var req reasonRequest
	if !h.bind(c, &req) {
		return
	}
	h.orderCommand(c, func(ref service.OrderRef) (*domain.Order, error) {
		return h.svc.Refund(c.Request.Context(), ref, req.Reason)
	})
}

func (h *Handler) PartialRefund(c *gin.Context) {
	var req partialRefundRequest
	if !h.bind(c, &req) {
		return
	}
	h.orderCommand(c, func(ref service.OrderRef) (*domain.Order, error) {
		return h.svc.PartialRefund(c.Request.Context(), ref, req.Amount, req.Reason)
	})
}

// SubmitPayment answers 202 while the charge is still unresolved at the provider.
func (h *Handler) SubmitPayment(c *gin.Context) {
	orderID, ok := h.param(c, "id")
	if !ok {
		return
	}
	var req submitPaymentRequest
	if !h.bind(c, &req) {
		return
	}
	if !h.authorizeOrder(c, orderID) {
		return
	}

	p, err := h.svc.SubmitPayment(c.Request.Context(), service.SubmitPaymentInput{
		OrderID:         orderID,
		MethodType:      domain.PaymentMethodType(strings.ToUpper(req.MethodType)),
		PaymentMethodID: req.PaymentMethodID,
		Metadata:        req.Metadata,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusCreated
	if p.Status() == domain.PaymentStatusProcessing {
		status = http.StatusAccepted
	}
	c.JSON(status, newPaymentResponse(p))
}

func (h *Handler) ListPayments(c *gin.Context) {
	orderID, ok := h.param(c, "id")
	if !ok || !h.authorizeOrder(c, orderID) {
		return
	}
	payments, err := h.svc.ListPayments(c.Request.Context(), orderID)
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, newPaymentResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (h *Handler) GetPayment(c *gin.Context) {
	id, ok := h.param(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.GetPayment(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !h.authorizeOrder(c, p.OrderID()) {
		return
	}
	c.JSON(http.StatusOK, newPaymentResponse(p))
}

// PaymentCallback receives provider notifications. Redelivered notifications answer 200.
func (h *Handler) PaymentCallback(c *gin.Context) {
	var req paymentCallbackRequest
	if !h.bind(c, &req) {
		return
	}

	p, err := h.svc.HandlePaymentCallback(c.Request.Context(), service.Outcome{
		PaymentID:     req.PaymentID,
		Status:        domain.PaymentStatus(strings.ToUpper(req.Status)),
		TransactionID: req.TransactionID,
		Message:       req.Message,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentResponse(p))
}
