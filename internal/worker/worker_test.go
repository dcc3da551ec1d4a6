package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/gateway"
	"github.com/safar/go-order-lifecycle/internal/models"
	"github.com/safar/go-order-lifecycle/internal/service"
	"github.com/safar/go-order-lifecycle/internal/store/memory"
	"github.com/safar/go-order-lifecycle/pkg/kafka"
	"github.com/safar/go-order-lifecycle/pkg/metrics"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type env struct {
	store   *memory.Store
	svc     *service.Service
	metrics *metrics.DomainMetrics
	product *models.Product
}

func newEnv(t *testing.T, gw gateway.Gateway) *env {
	t.Helper()
	st := memory.New()
	m := metrics.NewDomainMetrics(prometheus.NewRegistry())
	p := &models.Product{SKU: "SKU-1", Name: "Widget", Price: decimal.NewFromInt(20), Currency: "USD", StockQuantity: 100}
	require.NoError(t, st.CreateProduct(context.Background(), p))
	return &env{store: st, svc: service.New(st, gw, "mockpay", discard, m), metrics: m, product: p}
}

func (e *env) order(t *testing.T) *domain.Order {
	t.Helper()
	addr := domain.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}
	o, err := e.svc.PlaceOrder(context.Background(), service.PlaceOrderInput{
		UserID:          uuid.New(),
		BillingAddress:  addr,
		ShippingAddress: addr,
		Items:           []service.LineItem{{ProductID: e.product.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	return o
}

func TestReconciliationSettlesPhantomCharges(t *testing.T) {
	e := newEnv(t, gateway.NewMock(0, 100, 0))
	o := e.order(t)

	p, err := e.svc.SubmitPayment(context.Background(), service.SubmitPaymentInput{OrderID: o.ID(), MethodType: domain.PaymentMethodCard})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusProcessing, p.Status())

	w := NewReconciliationWorker(e.store, e.svc, time.Hour, -time.Second, 10, discard)
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := e.svc.GetOrder(context.Background(), o.ID())
	require.NoError(t, err)
	assert.True(t, stored.IsPaid())

	n, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconciliationSkipsFreshPayments(t *testing.T) {
	e := newEnv(t, gateway.NewMock(0, 100, 0))
	o := e.order(t)
	_, err := e.svc.SubmitPayment(context.Background(), service.SubmitPaymentInput{OrderID: o.ID(), MethodType: domain.PaymentMethodCard})
	require.NoError(t, err)

	w := NewReconciliationWorker(e.store, e.svc, time.Hour, time.Hour, 10, discard)
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconciliationRunStopsOnCancel(t *testing.T) {
	e := newEnv(t, gateway.NewMock(100, 0, 0))
	w := NewReconciliationWorker(e.store, e.svc, time.Millisecond, time.Minute, 10, discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, w.Run(ctx))
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestOutboxRelayPublishesToKafka(t *testing.T) {
	e := newEnv(t, gateway.NewMock(100, 0, 0))
	o := e.order(t)
	_, err := e.svc.SubmitPayment(context.Background(), service.SubmitPaymentInput{OrderID: o.ID(), MethodType: domain.PaymentMethodCard})
	require.NoError(t, err)

	writer := &recordingWriter{}
	relay := NewOutboxRelay(e.store, NewKafkaPublisher(writer), time.Hour, 2, discard, e.metrics)

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(e.store.Outbox()), n)
	assert.Len(t, writer.msgs, n)
	assert.Equal(t, float64(n), testutil.ToFloat64(e.metrics.OutboxPublished))

	first := writer.msgs[0]
	assert.Equal(t, []byte(o.ID().String()), first.Key)
	assert.Equal(t, "event_id", first.Headers[0].Key)
	assert.Equal(t, "event_type", first.Headers[1].Key)
	assert.Equal(t, []byte(domain.EventOrderCreated), first.Headers[1].Value)

	n, err = relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelayRetriesFailedBatch(t *testing.T) {
	e := newEnv(t, gateway.NewMock(100, 0, 0))
	e.order(t)

	writer := &recordingWriter{err: errors.New("broker unavailable")}
	relay := NewOutboxRelay(e.store, NewKafkaPublisher(writer), time.Hour, 10, discard, e.metrics)

	_, err := relay.Drain(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.OutboxFailures))

	writer.err = nil
	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLogPublisher(t *testing.T) {
	e := newEnv(t, gateway.NewMock(100, 0, 0))
	e.order(t)

	relay := NewOutboxRelay(e.store, NewLogPublisher(discard), time.Hour, 10, discard, e.metrics)
	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
