package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddress = Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder(uuid.New(), testAddress, testAddress, usd(100), usd(10), usd(5))
	require.NoError(t, err)
	return o
}

func newPaidTestOrder(t *testing.T) *Order {
	t.Helper()
	o := newTestOrder(t)
	require.NoError(t, o.MarkAsPaid())
	o.PullEvents()
	return o
}

func assertTotalInvariant(t *testing.T, o *Order) {
	t.Helper()
	want := o.Subtotal().Add(o.Tax()).Add(o.ShippingCost())
	assert.True(t, o.Total().Equal(want), "total %s != %s", o.Total(), want)
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventType()
	}
	return out
}

func findEvent[T Event](events []Event) (T, bool) {
	for _, e := range events {
		if typed, ok := e.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}

func TestNewOrder(t *testing.T) {
	o := newTestOrder(t)

	assert.True(t, o.Total().Equal(usd(115)))
	assert.Equal(t, OrderStatusPending, o.Status())
	assert.Equal(t, PaymentStatusPending, o.PaymentStatus())
	assert.True(t, o.RefundedAmount().IsZero())
	assert.Equal(t, []string{EventOrderCreated}, eventTypes(o.PullEvents()))
	assert.Empty(t, o.PullEvents())
}

func TestNewOrderValidation(t *testing.T) {
	eur := MustMoney(decimal.NewFromInt(5), "EUR")

	_, err := NewOrder(uuid.New(), testAddress, testAddress, usd(100), usd(10), eur)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = NewOrder(uuid.Nil, testAddress, testAddress, usd(1), usd(0), usd(0))
	assert.ErrorIs(t, err, ErrUserRequired)

	_, err = NewOrder(uuid.New(), Address{}, testAddress, usd(1), usd(0), usd(0))
	assert.ErrorIs(t, err, ErrAddressRequired)
}

func TestNewPaidOrder(t *testing.T) {
	o, err := NewPaidOrder(uuid.New(), testAddress, testAddress, usd(20), usd(2), usd(0))
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusSucceeded, o.PaymentStatus())
	assert.Equal(t, OrderStatusPending, o.Status())

	_, ok := findEvent[OrderPaidEvent](o.PullEvents())
	assert.True(t, ok)
	assert.ErrorIs(t, o.MarkAsPaid(), ErrInvalidStatus)
}

func TestOrderItemsRecalculateTotals(t *testing.T) {
	o := newTestOrder(t)

	first, err := o.AddItem(uuid.New(), uuid.NullUUID{}, 2, usd(30), testSnapshot(t))
	require.NoError(t, err)
	assert.True(t, o.Subtotal().Equal(usd(60)))
	assertTotalInvariant(t, o)

	second, err := o.AddItem(uuid.New(), uuid.NullUUID{UUID: uuid.New(), Valid: true}, 1, usd(40), testSnapshot(t))
	require.NoError(t, err)
	assert.True(t, o.Subtotal().Equal(usd(100)))
	assert.True(t, o.Total().Equal(usd(115)))

	require.NoError(t, o.UpdateItemQuantity(first.ID(), 5))
	assert.True(t, o.Subtotal().Equal(usd(190)))
	assertTotalInvariant(t, o)

	assert.ErrorIs(t, o.UpdateItemQuantity(first.ID(), 0), ErrInvalidQuantity)
	assert.True(t, o.Subtotal().Equal(usd(190)))

	require.NoError(t, o.RemoveItem(second.ID()))
	assert.Len(t, o.Items(), 1)
	assert.True(t, o.Subtotal().Equal(usd(150)))
	assertTotalInvariant(t, o)

	assert.ErrorIs(t, o.RemoveItem(uuid.New()), ErrItemNotFound)

	_, err = o.AddItem(uuid.New(), uuid.NullUUID{}, 1, MustMoney(decimal.NewFromInt(1), "EUR"), testSnapshot(t))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	assert.Len(t, o.Items(), 1)
}

func TestUpdateItemQuantityRestoresItemOnFailure(t *testing.T) {
	o := newTestOrder(t)
	item, err := o.AddItem(uuid.New(), uuid.NullUUID{}, 2, usd(30), testSnapshot(t))
	require.NoError(t, err)

	state := o.State()
	state.Items[0].UnitPrice = MustMoney(decimal.NewFromInt(30), "EUR")
	state.Items[0].TotalPrice = MustMoney(decimal.NewFromInt(60), "EUR")
	restored := RehydrateOrder(state)
	before := restored.State()

	assert.ErrorIs(t, restored.UpdateItemQuantity(item.ID(), 4), ErrCurrencyMismatch)
	assert.Equal(t, before, restored.State())
	assert.Equal(t, 2, restored.Items()[0].Quantity())
}

func TestOrderItemsFrozenAfterPayment(t *testing.T) {
	o := newTestOrder(t)
	item, err := o.AddItem(uuid.New(), uuid.NullUUID{}, 1, usd(100), testSnapshot(t))
	require.NoError(t, err)
	require.NoError(t, o.MarkAsPaid())

	assert.ErrorIs(t, o.UpdateItemQuantity(item.ID(), 3), ErrInvalidStatus)
	assert.ErrorIs(t, o.RemoveItem(item.ID()), ErrInvalidStatus)
	_, err = o.AddItem(uuid.New(), uuid.NullUUID{}, 1, usd(1), testSnapshot(t))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestMarkAsPaidTwice(t *testing.T) {
	o := newTestOrder(t)
	o.PullEvents()

	require.NoError(t, o.MarkAsPaid())
	assert.Equal(t, PaymentStatusSucceeded, o.PaymentStatus())

	paid, ok := findEvent[OrderPaidEvent](o.PullEvents())
	require.True(t, ok)
	assert.Equal(t, o.ID(), paid.OrderID)
	assert.True(t, paid.Amount.Equal(usd(115)))

	assert.ErrorIs(t, o.MarkAsPaid(), ErrInvalidStatus)
	assert.Empty(t, o.PullEvents())
}

func TestMarkAsPaidRejectsTerminalOrders(t *testing.T) {
	o := newTestOrder(t)
	require.NoError(t, o.Cancel("changed my mind"))
	assert.ErrorIs(t, o.MarkAsPaid(), ErrInvalidStatus)
}

func TestOrderLifecycleScenario(t *testing.T) {
	o := newTestOrder(t)
	assert.True(t, o.Total().Equal(usd(115)))

	assert.ErrorIs(t, o.MarkAsShipped(), ErrPaymentRequired)

	require.NoError(t, o.MarkAsPaid())
	assert.Equal(t, OrderStatusPending, o.Status())

	require.NoError(t, o.MarkAsShipped())
	assert.Equal(t, OrderStatusShipped, o.Status())
	require.NoError(t, o.MarkAsDelivered())
	assert.Equal(t, OrderStatusDelivered, o.Status())
	assert.ErrorIs(t, o.MarkAsShipped(), ErrInvalidStatus)

	require.NoError(t, o.ProcessRefund("defective"))
	assert.True(t, o.RefundedAmount().Equal(usd(115)))
	assert.Equal(t, OrderStatusReturnedAndRefunded, o.Status())
	assert.Equal(t, "defective", o.RefundReason())
	assert.NotNil(t, o.RefundedAt())
	assertTotalInvariant(t, o)

	assert.ErrorIs(t, o.Cancel(""), ErrInvalidStatus)
	assert.ErrorIs(t, o.ProcessRefund("again"), ErrInvalidStatus)
}

func TestStartProcessing(t *testing.T) {
	o := newTestOrder(t)
	assert.ErrorIs(t, o.StartProcessing(), ErrPaymentRequired)

	require.NoError(t, o.MarkAsPaid())
	require.NoError(t, o.StartProcessing())
	assert.Equal(t, OrderStatusProcessing, o.Status())
	require.NoError(t, o.MarkAsShipped())
}

func TestMarkAsDeliveredRequiresShipment(t *testing.T) {
	o := newPaidTestOrder(t)
	assert.ErrorIs(t, o.MarkAsDelivered(), ErrInvalidStatus)
}

func TestMarkAsReturned(t *testing.T) {
	o := newPaidTestOrder(t)
	assert.ErrorIs(t, o.MarkAsReturned("too early"), ErrInvalidStatus)

	require.NoError(t, o.MarkAsShipped())
	require.NoError(t, o.MarkAsDelivered())
	o.PullEvents()

	require.NoError(t, o.MarkAsReturned("wrong size"))
	assert.Equal(t, OrderStatusReturned, o.Status())
	assert.True(t, o.RefundedAmount().IsZero())

	returned, ok := findEvent[OrderReturnedEvent](o.PullEvents())
	require.True(t, ok)
	assert.Equal(t, "wrong size", returned.Reason)

	require.NoError(t, o.ProcessRefund("wrong size"))
	assert.Equal(t, OrderStatusReturnedAndRefunded, o.Status())
}

func TestProcessRefundRequiresPayment(t *testing.T) {
	o := newTestOrder(t)
	assert.ErrorIs(t, o.ProcessRefund("nope"), ErrInvalidStatus)
	assert.True(t, o.RefundedAmount().IsZero())
}

func TestPartialRefundsAccumulate(t *testing.T) {
	o := newPaidTestOrder(t)

	require.NoError(t, o.ProcessPartialRefund(usd(15), "scratched"))
	assert.True(t, o.RefundedAmount().Equal(usd(15)))
	assert.Equal(t, OrderStatusPending, o.Status())

	partial, ok := findEvent[OrderPartiallyRefundedEvent](o.PullEvents())
	require.True(t, ok)
	assert.True(t, partial.Remaining.Equal(usd(100)))

	err := o.ProcessPartialRefund(usd(101), "too much")
	assert.ErrorIs(t, err, ErrNegativeAmount)
	assert.True(t, o.RefundedAmount().Equal(usd(15)))

	assert.ErrorIs(t, o.ProcessPartialRefund(usd(0), "zero"), ErrInvalidRefund)
	assert.ErrorIs(t, o.ProcessPartialRefund(MustMoney(decimal.NewFromInt(1), "EUR"), "fx"), ErrCurrencyMismatch)

	require.NoError(t, o.ProcessPartialRefund(usd(100), "rest"))
	assert.True(t, o.RefundedAmount().Equal(o.Total()))
	assert.Equal(t, OrderStatusReturnedAndRefunded, o.Status())

	refunded, ok := findEvent[OrderRefundedEvent](o.PullEvents())
	require.True(t, ok)
	assert.True(t, refunded.Amount.Equal(usd(100)))
}

func TestFullRefundAfterPartialTopsUp(t *testing.T) {
	o := newPaidTestOrder(t)
	require.NoError(t, o.ProcessPartialRefund(usd(40), "first"))
	o.PullEvents()

	require.NoError(t, o.ProcessRefund("rest"))
	assert.True(t, o.RefundedAmount().Equal(usd(115)))

	refunded, ok := findEvent[OrderRefundedEvent](o.PullEvents())
	require.True(t, ok)
	assert.True(t, refunded.Amount.Equal(usd(75)))
	assert.True(t, refunded.TotalRefunded.Equal(usd(115)))
}

func TestPartialRefundAfterFullRefundFails(t *testing.T) {
	o := newPaidTestOrder(t)
	require.NoError(t, o.ProcessRefund("all"))

	assert.ErrorIs(t, o.ProcessPartialRefund(usd(1), "more"), ErrInvalidStatus)
	assert.True(t, o.RefundedAmount().Equal(usd(115)))
}

func TestCancel(t *testing.T) {
	o := newTestOrder(t)
	o.PullEvents()
	require.NoError(t, o.Cancel("out of stock"))
	assert.Equal(t, OrderStatusCancelled, o.Status())
	assert.Equal(t, []string{EventOrderStatusChanged, EventOrderCancelled}, eventTypes(o.PullEvents()))

	assert.ErrorIs(t, newPaidTestOrder(t).Cancel(""), ErrInvalidStatus)

	shipped := newPaidTestOrder(t)
	require.NoError(t, shipped.MarkAsShipped())
	assert.ErrorIs(t, shipped.Cancel(""), ErrInvalidStatus)
}

func TestCancelAfterFailedPayment(t *testing.T) {
	o := newTestOrder(t)
	require.NoError(t, o.MarkPaymentProcessing())
	assert.ErrorIs(t, o.MarkPaymentProcessing(), ErrInvalidStatus)
	require.NoError(t, o.MarkPaymentFailed("card declined"))
	assert.Equal(t, PaymentStatusFailed, o.PaymentStatus())
	require.NoError(t, o.Cancel("gave up"))
}

func TestAuditFields(t *testing.T) {
	o := newTestOrder(t)
	o.SetActor("admin@example.com")
	created := o.Audit().UpdatedAt

	require.NoError(t, o.MarkAsPaid())
	assert.Equal(t, "admin@example.com", o.Audit().ModifiedBy)
	assert.False(t, o.Audit().UpdatedAt.Before(created))
}

func TestRehydrateOrderRoundTrip(t *testing.T) {
	o := newTestOrder(t)
	_, err := o.AddItem(uuid.New(), uuid.NullUUID{}, 3, usd(10), testSnapshot(t))
	require.NoError(t, err)
	o.Persisted(4)

	restored := RehydrateOrder(o.State())
	assert.Equal(t, o.State(), restored.State())
	assert.Equal(t, 4, restored.Version())
	assert.Empty(t, restored.Events())
}
