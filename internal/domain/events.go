package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is a fact recorded by an aggregate during a unit of work. Events are drained with
// PullEvents and published only after the surrounding transaction commits.
type Event interface {
	EventType() string
	AggregateID() uuid.UUID
	OccurredAt() time.Time
}

const (
	EventOrderCreated              = "order.created"
	EventOrderPaid                 = "order.paid"
	EventOrderStatusChanged        = "order.status_changed"
	EventOrderPaymentStatusChanged = "order.payment_status_changed"
	EventOrderReturned             = "order.returned"
	EventOrderRefunded             = "order.refunded"
	EventOrderPartiallyRefunded    = "order.partially_refunded"
	EventOrderCancelled            = "order.cancelled"
	EventPaymentStatusChanged      = "payment.status_changed"
)

type eventBase struct {
	ID       uuid.UUID `json:"event_id"`
	Occurred time.Time `json:"occurred_at"`
}

func newEventBase(at time.Time) eventBase {
	return eventBase{ID: uuid.New(), Occurred: at}
}

func (e eventBase) OccurredAt() time.Time { return e.Occurred }

type OrderCreatedEvent struct {
	eventBase
	OrderID uuid.UUID `json:"order_id"`
	UserID  uuid.UUID `json:"user_id"`
	Total   Money     `json:"total"`
}

func (OrderCreatedEvent) EventType() string        { return EventOrderCreated }
func (e OrderCreatedEvent) AggregateID() uuid.UUID { return e.OrderID }

type OrderPaidEvent struct {
	eventBase
	OrderID uuid.UUID `json:"order_id"`
	Amount  Money     `json:"amount"`
}

func (OrderPaidEvent) EventType() string        { return EventOrderPaid }
func (e OrderPaidEvent) AggregateID() uuid.UUID { return e.OrderID }

type OrderStatusChangedEvent struct {
	eventBase
	OrderID   uuid.UUID   `json:"order_id"`
	OldStatus OrderStatus `json:"old_status"`
	NewStatus OrderStatus `json:"new_status"`
}

func (OrderStatusChangedEvent) EventType() string        { return EventOrderStatusChanged }
func (e OrderStatusChangedEvent) AggregateID() uuid.UUID { return e.OrderID }

type OrderPaymentStatusChangedEvent struct {
	eventBase
	OrderID   uuid.UUID     `json:"order_id"`
	OldStatus PaymentStatus `json:"old_status"`
	NewStatus PaymentStatus `json:"new_status"`
	Reason    string        `json:"reason,omitempty"`
}

func (OrderPaymentStatusChangedEvent) EventType() string        { return EventOrderPaymentStatusChanged }
func (e OrderPaymentStatusChangedEvent) AggregateID() uuid.UUID { return e.OrderID }

type OrderReturnedEvent struct {
	eventBase
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason,omitempty"`
}

func (OrderReturnedEvent) EventType() string        { return EventOrderReturned }
func (e OrderReturnedEvent) AggregateID() uuid.UUID { return e.OrderID }

// OrderRefundedEvent is raised when an order becomes fully refunded. Amount is the part
// refunded by the operation that completed the refund.
type OrderRefundedEvent struct {
	eventBase
	OrderID       uuid.UUID `json:"order_id"`
	Amount        Money     `json:"amount"`
	TotalRefunded Money     `json:"total_refunded"`
	Reason        string    `json:"reason,omitempty"`
}

func (OrderRefundedEvent) EventType() string        { return EventOrderRefunded }
func (e OrderRefundedEvent) AggregateID() uuid.UUID { return e.OrderID }

type OrderPartiallyRefundedEvent struct {
	eventBase
	OrderID       uuid.UUID `json:"order_id"`
	Amount        Money     `json:"amount"`
	TotalRefunded Money     `json:"total_refunded"`
	Remaining     Money     `json:"remaining"`
	Reason        string    `json:"reason,omitempty"`
}

func (OrderPartiallyRefundedEvent) EventType() string        { return EventOrderPartiallyRefunded }
func (e OrderPartiallyRefundedEvent) AggregateID() uuid.UUID { return e.OrderID }

type OrderCancelledEvent struct {
	eventBase
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason,omitempty"`
}

func (OrderCancelledEvent) EventType() string        { return EventOrderCancelled }
func (e OrderCancelledEvent) AggregateID() uuid.UUID { return e.OrderID }

type PaymentStatusChangedEvent struct {
	eventBase
	PaymentID uuid.UUID     `json:"payment_id"`
	OrderID   uuid.UUID     `json:"order_id"`
	OldStatus PaymentStatus `json:"old_status"`
	NewStatus PaymentStatus `json:"new_status"`
}

func (PaymentStatusChangedEvent) EventType() string        { return EventPaymentStatusChanged }
func (e PaymentStatusChangedEvent) AggregateID() uuid.UUID { return e.PaymentID }

// EventID returns the unique id of an event raised by this package.
func EventID(e Event) uuid.UUID {
	if b, ok := e.(interface{ eventID() uuid.UUID }); ok {
		return b.eventID()
	}
	return uuid.Nil
}

func (e eventBase) eventID() uuid.UUID { return e.ID }

type eventBuffer struct {
	pending []Event
}

func (b *eventBuffer) record(e Event) {
	b.pending = append(b.pending, e)
}

// Events returns the events recorded since the last drain without clearing them.
func (b *eventBuffer) Events() []Event {
	out := make([]Event, len(b.pending))
	copy(out, b.pending)
	return out
}

// PullEvents returns the recorded events and clears the buffer.
func (b *eventBuffer) PullEvents() []Event {
	out := b.pending
	b.pending = nil
	return out
}
