package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment(t *testing.T, order *Order) *Payment {
	t.Helper()
	p, err := NewPaymentForOrder(order, PaymentMethodCard, "mockpay", map[string]string{"channel": "web"})
	require.NoError(t, err)
	return p
}

func TestNewPaymentValidation(t *testing.T) {
	order := uuid.New()
	_, err := NewPayment(order, uuid.NullUUID{}, usd(0), PaymentMethodCard, "mockpay", nil)
	assert.ErrorIs(t, err, ErrInvalidPaymentAmount)

	_, err = NewPayment(uuid.Nil, uuid.NullUUID{}, usd(1), PaymentMethodCard, "mockpay", nil)
	assert.ErrorIs(t, err, ErrOrderRequired)

	_, err = NewPayment(order, uuid.NullUUID{}, usd(1), "CHEQUE", "mockpay", nil)
	assert.ErrorIs(t, err, ErrInvalidPaymentMethod)

	_, err = NewPayment(order, uuid.NullUUID{}, usd(1), PaymentMethodWallet, " ", nil)
	assert.ErrorIs(t, err, ErrProviderRequired)
}

func TestNewPaymentForOrder(t *testing.T) {
	o := newTestOrder(t)
	p := newTestPayment(t, o)
	assert.Equal(t, o.ID(), p.OrderID())
	assert.True(t, p.Amount().Equal(o.Total()))
	assert.Equal(t, PaymentStatusPending, p.Status())
	assert.Equal(t, "web", p.Metadata()["channel"])

	_, err := NewPaymentForOrder(newPaidTestOrder(t), PaymentMethodCard, "mockpay", nil)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestPaymentHappyPath(t *testing.T) {
	p := newTestPayment(t, newTestOrder(t))

	require.NoError(t, p.MarkProcessing("ref-1"))
	require.NoError(t, p.MarkSucceeded("txn-1"))
	assert.Equal(t, PaymentStatusSucceeded, p.Status())
	assert.Equal(t, "ref-1", p.ExternalReference())
	assert.Equal(t, "txn-1", p.TransactionID())
	assert.NotNil(t, p.ProcessedAt())

	events := p.PullEvents()
	require.Len(t, events, 2)
	changed := events[1].(PaymentStatusChangedEvent)
	assert.Equal(t, p.ID(), changed.PaymentID)
	assert.Equal(t, PaymentStatusProcessing, changed.OldStatus)
	assert.Equal(t, PaymentStatusSucceeded, changed.NewStatus)
}

func TestPaymentSucceededIsFinal(t *testing.T) {
	p := newTestPayment(t, newTestOrder(t))
	require.NoError(t, p.MarkSucceeded("txn-1"))

	assert.ErrorIs(t, p.MarkFailed("late decline"), ErrInvalidPaymentTransition)
	assert.ErrorIs(t, p.MarkProcessing("again"), ErrInvalidPaymentTransition)
	assert.ErrorIs(t, p.MarkSucceeded("txn-2"), ErrInvalidPaymentTransition)
	assert.Equal(t, "txn-1", p.TransactionID())
}

func TestPaymentRetryAfterFailure(t *testing.T) {
	p := newTestPayment(t, newTestOrder(t))
	require.NoError(t, p.MarkProcessing("ref-1"))
	require.NoError(t, p.MarkFailed("card declined"))
	assert.Equal(t, "card declined", p.ErrorMessage())

	assert.ErrorIs(t, p.MarkFailed("twice"), ErrInvalidPaymentTransition)
	assert.ErrorIs(t, p.MarkSucceeded("txn"), ErrInvalidPaymentTransition)

	require.NoError(t, p.MarkProcessing("ref-2"))
	assert.Empty(t, p.ErrorMessage())
	assert.Nil(t, p.ProcessedAt())
	require.NoError(t, p.MarkSucceeded("txn-2"))
}

func TestRehydratePayment(t *testing.T) {
	p := newTestPayment(t, newTestOrder(t))
	require.NoError(t, p.MarkProcessing("ref"))
	p.Persisted(2)

	restored := RehydratePayment(p.State())
	assert.Equal(t, p.State(), restored.State())
	assert.Empty(t, restored.Events())
}

func TestPaymentAuditFields(t *testing.T) {
	p := newTestPayment(t, newTestOrder(t))
	p.SetActor("user-1")
	assert.Equal(t, "user-1", p.Audit().CreatedBy)
	assert.Empty(t, p.Audit().ModifiedBy)

	created := p.Audit().UpdatedAt
	p.SetPaymentMethod("pm_123")
	assert.Equal(t, "pm_123", p.PaymentMethodID())
	assert.Equal(t, "user-1", p.Audit().ModifiedBy)
	assert.False(t, p.Audit().UpdatedAt.Before(created))

	p.SetActor("system:gateway")
	require.NoError(t, p.MarkProcessing("ref-1"))
	assert.Equal(t, "system:gateway", p.Audit().ModifiedBy)
	assert.Equal(t, "user-1", p.Audit().CreatedBy)
}
