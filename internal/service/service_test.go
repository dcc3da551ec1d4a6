package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/gateway"
	"github.com/safar/go-order-lifecycle/internal/models"
	"github.com/safar/go-order-lifecycle/internal/store/memory"
	"github.com/safar/go-order-lifecycle/pkg/metrics"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *Service
	store   *memory.Store
	metrics *metrics.DomainMetrics
	widget  *models.Product
	gadget  *models.Product
}

func newFixture(t *testing.T, gw gateway.Gateway) *fixture {
	t.Helper()
	if gw == nil {
		gw = gateway.NewMock(100, 0, 0)
	}

	st := memory.New()
	m := metrics.NewDomainMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		svc:     New(st, gw, "mockpay", logger, m),
		store:   st,
		metrics: m,
		widget:  &models.Product{SKU: "WID-1", Name: "Widget", Slug: "widget", Price: decimal.NewFromInt(50), Currency: "USD", StockQuantity: 10},
		gadget:  &models.Product{SKU: "GAD-1", Name: "Gadget", Slug: "gadget", Price: decimal.RequireFromString("12.50"), Currency: "USD", StockQuantity: 4},
	}
	require.NoError(t, st.CreateProduct(context.Background(), f.widget))
	require.NoError(t, st.CreateProduct(context.Background(), f.gadget))
	return f
}

var testAddress = domain.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}

func (f *fixture) placeOrder(t *testing.T) *domain.Order {
	t.Helper()
	o, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:          uuid.New(),
		BillingAddress:  testAddress,
		ShippingAddress: testAddress,
		Items:           []LineItem{{ProductID: f.widget.ID, Quantity: 2}},
		Tax:             decimal.NewFromInt(10),
		ShippingCost:    decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) placePaidOrder(t *testing.T) *domain.Order {
	t.Helper()
	o := f.placeOrder(t)
	o, err := f.svc.MarkPaid(context.Background(), OrderRef{ID: o.ID()})
	require.NoError(t, err)
	return o
}

func (f *fixture) stock(t *testing.T, p *models.Product) int {
	t.Helper()
	got, err := f.store.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	return got.StockQuantity
}

func (f *fixture) outboxTypes() []string {
	var out []string
	for _, rec := range f.store.Outbox() {
		out = append(out, rec.EventType)
	}
	return out
}

func usd(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// stubGateway lets a test script both gateway calls.
type stubGateway struct {
	charge func(key uuid.UUID) (gateway.Result, error)
	status func(key uuid.UUID) (gateway.Result, error)
}

func (g *stubGateway) Charge(_ context.Context, key uuid.UUID, _ domain.Money) (gateway.Result, error) {
	return g.charge(key)
}

func (g *stubGateway) CheckStatus(_ context.Context, key uuid.UUID) (gateway.Result, error) {
	return g.status(key)
}

func ref(o *domain.Order) OrderRef {
	return OrderRef{ID: o.ID(), Version: o.Version()}
}
