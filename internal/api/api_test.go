package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/gateway"
	"github.com/safar/go-order-lifecycle/internal/models"
	"github.com/safar/go-order-lifecycle/internal/service"
	"github.com/safar/go-order-lifecycle/internal/store/memory"
	"github.com/safar/go-order-lifecycle/pkg/metrics"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	router   *gin.Engine
	registry *prometheus.Registry
	product  *models.Product
	customer uuid.UUID
	operator uuid.UUID
}

func newServer(t *testing.T, gw gateway.Gateway) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	st := memory.New()
	p := &models.Product{SKU: "WID-1", Name: "Widget", Slug: "widget", Price: decimal.NewFromInt(50), Currency: "USD", StockQuantity: 3}
	require.NoError(t, st.CreateProduct(context.Background(), p))

	svc := service.New(st, gw, "mockpay", logger, metrics.NewDomainMetrics(reg))
	router := NewRouter(NewHandler(svc, logger), RouterConfig{
		AllowOrigins: []string{"http://localhost:3000"},
		Metrics:      metrics.NewServerMetrics(reg, "api"),
		Gatherer:     reg,
	}, logger)

	return &server{router: router, registry: reg, product: p, customer: uuid.New(), operator: uuid.New()}
}

type call struct {
	method  string
	path    string
	user    uuid.UUID
	role    string
	ifMatch string
	body    any
}

func (s *server) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	if c.user != uuid.Nil {
		req.Header.Set(headerUserID, c.user.String())
	}
	if c.role != "" {
		req.Header.Set(headerRole, c.role)
	}
	if c.ifMatch != "" {
		req.Header.Set("If-Match", c.ifMatch)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// operatorCall sends an order command with operator rights.
func (s *server) operatorCall(t *testing.T, orderID uuid.UUID, action string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, call{method: http.MethodPost, path: "/v1/orders/" + orderID.String() + "/" + action, user: s.operator, role: roleOperator, body: body})
}

var address = map[string]string{"line1": "1 Main St", "city": "Springfield", "postal_code": "12345", "country": "US"}

func (s *server) placeOrder(t *testing.T, quantity int) orderResponse {
	t.Helper()
	rec := s.do(t, call{method: http.MethodPost, path: "/v1/orders", user: s.customer, body: map[string]any{
		"billing_address":  address,
		"shipping_address": address,
		"items":            []map[string]any{{"product_id": s.product.ID, "quantity": quantity}},
		"tax":              "10.00",
		"shipping_cost":    "5.00",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[orderResponse](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error errorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestPlaceOrder(t *testing.T) {
	s := newServer(t, gateway.NewMock(100, 0, 0))
	o := s.placeOrder(t, 2)

	assert.Equal(t, s.customer, o.UserID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.True(t, o.Total.Amount().Equal(decimal.NewFromInt(115)), o.Total.String())
	assert.Equal(t, 1, o.Version)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Widget", o.Items[0].Product.Name)
	assert.Equal(t, s.customer.String(), o.CreatedBy)

	rec := s.do(t, call{method: http.MethodGet, path: "/v1/orders/" + o.ID.String(), user: s.customer})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"1"`, rec.Header().Get("ETag"))
}

func TestRequestsWithoutActorAreRejected(t *testing.T) {
	s := newServer(t, gateway.NewMock(100, 0, 0))

	rec := s.do(t, call{method: http.MethodGet, path: "/v1/orders"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Auth.Unauthorized", errorCode(t, rec))
}

func TestOrdersAreVisibleToOwnerOnly(t *testing.T) {
	s := newServer(t, gateway.NewMock(100, 0, 0))
	o := s.placeOrder(t, 1)

	rec := s.do(t, call{method: http.MethodGet, path: "/v1/orders/" + o.ID.String(), user: uuid.New()})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/v1/orders/" + o.ID.String(), user: s.operator, role: roleOperator})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFulfilmentRequiresOperator(t *testing.T) {
	s := newServer(t, gateway.NewMock(100, 0, 0))
	o := s.placeOrder(t, 1)

	rec := s.do(t, call{method: http.MethodPost, path: "/v1/orders/" + o.ID.String() + "/ship", user: s.customer})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPlaceOrderErrors(t *testing.T) {
	s := newServer(t, gateway.NewMock(100, 0, 0))

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{
			name:   "no items",
			body:   map[string]any{"billing_address": address, "shipping_address": address},
			status: http.StatusUnprocessableEntity,
			code:   "OrderItem.InvalidQuantity",
		},
		{
			name: "insufficient stock",
			body: map[string]any{
				"billing_address":  address,
				"shipping_address": address,
				"items":            []map[string]any{{"product_id": s.product.ID, "quantity": 4}},
			},
			status: http.StatusConflict,
			code:   "Product.InsufficientStock",
		},
		{
			name: "unknown product",
			body: map[string]any{
				"billing_address":  address,
				"shipping_address": address,
				"items":            []map[string]any{{"product_id": uuid.New(), "quantity": 1}},
			},
			status: http.StatusNotFound,
			code:   "Product.NotFound",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, call{method: http.MethodPost, path: "/v1/orders", user: s.customer, body: tt.body})
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	s := newServer(t, gateway.NewMock(100, 0, 0))
	o := s.placeOrder(t, 2)

	rec := s.do(t, call{method: http.MethodPost, path: "/v1/orders/" + o.ID.String() + "/payments", user: s.customer, body: map[string]any{"method_type": "card"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[paymentResponse](t, rec)
	assert.Equal(t, domain.PaymentStatusSucceeded, p.Status)
	assert.NotEmpty(t, p.TransactionID)

	for _, action := range []string{"start-processing", "ship", "deliver"} {
		rec = s.operatorCall(t, o.ID, action, nil)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", action, rec.Body.String())
	}

	rec = s.operatorCall(t, o.ID, "partial-refund", map[string]any{"amount": "15", "reason": "scratched"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[orderResponse](t, rec)
	assert.True(t, got.RefundedAmount.Amount().Equal(decimal.NewFromInt(15)))
	assert.Equal(t, s.operator.String(), got.ModifiedBy)

	rec = s.operatorCall(t, o.ID, "partial-refund", map[string]any{"amount": "500", "reason": "too much"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/v1/orders/" + o.ID.String() + "/payments", user: s.customer})
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Items []paymentResponse `json:"items"`
	}](t, rec)
	assert.Len(t, list.Items, 1)
}

func TestStaleIfMatchIsConflict(t *testing.T) {
	s := newServer(t, gateway.NewMock(100, 0, 0))
	o := s.placeOrder(t, 1)

	rec := s.do(t, call{method: http.MethodPost, path: "/v1/orders/" + o.ID.String() + "/items", user: s.customer, ifMatch: `"1"`,
		body: map[string]any{"product_id": s.product.ID, "quantity": 1}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `"2"`, rec.Header().Get("ETag"))

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/orders/" + o.ID.String() + "/cancel", user: s.customer, ifMatch: `"1"`,
		body: map[string]any{"reason": "changed my mind"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Concurrency.Conflict", errorCode(t, rec))

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/orders/" + o.ID.String() + "/cancel", user: s.customer, ifMatch: "abc"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTimedOutPaymentIsAccepted(t *testing.T) {
	s := newServer(t, gateway.NewMock(0, 100, 0))
	o := s.placeOrder(t, 1)

	rec := s.do(t, call{method: http.MethodPost, path: "/v1/orders/" + o.ID.String() + "/payments", user: s.customer, body: map[string]any{"method_type": "CARD"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	p := decode[paymentResponse](t, rec)
	assert.Equal(t, domain.PaymentStatusProcessing, p.Status)

	rec = s.do(t, call{method: http.MethodPost, path: "/webhooks/payments", body: map[string]any{
		"payment_id":     p.ID,
		"status":         "succeeded",
		"transaction_id": "txn_webhook_1",
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodGet, path: "/v1/payments/" + p.ID.String(), user: s.customer})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PaymentStatusSucceeded, decode[paymentResponse](t, rec).Status)
}

func TestCaptureCallbackForDeclinedChargeLeavesOrderUnpaid(t *testing.T) {
	s := newServer(t, gateway.NewMock(0, 0, 0))
	o := s.placeOrder(t, 1)

	rec := s.do(t, call{method: http.MethodPost, path: "/v1/orders/" + o.ID.String() + "/payments", user: s.customer, body: map[string]any{"method_type": "CARD"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[paymentResponse](t, rec)
	require.Equal(t, domain.PaymentStatusFailed, p.Status)

	rec = s.do(t, call{method: http.MethodPost, path: "/webhooks/payments", body: map[string]any{
		"payment_id":     p.ID,
		"status":         "succeeded",
		"transaction_id": "forged",
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.PaymentStatusFailed, decode[paymentResponse](t, rec).Status)

	rec = s.do(t, call{method: http.MethodGet, path: "/v1/orders/" + o.ID.String(), user: s.customer})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PaymentStatusFailed, decode[orderResponse](t, rec).PaymentStatus)

	rec = s.operatorCall(t, o.ID, "start-processing", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListOrdersRejectsMalformedCursor(t *testing.T) {
	s := newServer(t, gateway.NewMock(100, 0, 0))
	s.placeOrder(t, 1)

	rec := s.do(t, call{method: http.MethodGet, path: "/v1/orders?cursor=not-a-cursor!!", user: s.customer})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Request.InvalidCursor", errorCode(t, rec))

	rec = s.do(t, call{method: http.MethodGet, path: "/v1/orders?cursor=e30=", user: s.customer})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/v1/orders", user: s.customer})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPaymentCallbackErrors(t *testing.T) {
	s := newServer(t, gateway.NewMock(100, 0, 0))

	rec := s.do(t, call{method: http.MethodPost, path: "/webhooks/payments", body: map[string]any{"payment_id": uuid.New(), "status": "SUCCEEDED"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/webhooks/payments", body: map[string]any{"payment_id": uuid.New(), "status": "REVERSED"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, gateway.NewMock(100, 0, 0))
	s.do(t, call{method: http.MethodGet, path: "/health"})

	rec := s.do(t, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orders_api_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrInvalidStatus, http.StatusUnprocessableEntity},
		{domain.ErrItemNotFound, http.StatusNotFound},
		{errForbidden, http.StatusForbidden},
		{fmt.Errorf("load: %w", database.ErrOrderNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: %w", database.ErrLockTimeout, errors.New("55P03")), http.StatusConflict},
		{database.ErrConcurrencyConflict, http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, _ := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}
