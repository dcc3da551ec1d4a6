package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "PENDING"
	OrderStatusProcessing          OrderStatus = "PROCESSING"
	OrderStatusShipped             OrderStatus = "SHIPPED"
	OrderStatusDelivered           OrderStatus = "DELIVERED"
	OrderStatusReturned            OrderStatus = "RETURNED"
	OrderStatusReturnedAndRefunded OrderStatus = "RETURNED_AND_REFUNDED"
	OrderStatusCancelled           OrderStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusSucceeded  PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
)

// now is replaced in tests to pin timestamps.
var now = func() time.Time { return time.Now().UTC() }

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a Address) IsZero() bool {
	return strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Country) == ""
}

// Audit carries who touched an aggregate and when.
type Audit struct {
	CreatedAt  time.Time
	CreatedBy  string
	UpdatedAt  time.Time
	ModifiedBy string
}

// Order is the aggregate root for a customer order. All mutations go through its methods;
// persistence increments the version on every successful write.
type Order struct {
	id              uuid.UUID
	userID          uuid.UUID
	billingAddress  Address
	shippingAddress Address
	items           []*OrderItem
	subtotal        Money
	tax             Money
	shippingCost    Money
	total           Money
	status          OrderStatus
	paymentStatus   PaymentStatus
	refundedAmount  Money
	refundReason    string
	refundedAt      *time.Time
	audit           Audit
	version         int
	actor           string

	eventBuffer
}

func NewOrder(userID uuid.UUID, billing, shipping Address, subtotal, tax, shippingCost Money) (*Order, error) {
	if userID == uuid.Nil {
		return nil, ErrUserRequired
	}
	if billing.IsZero() || shipping.IsZero() {
		return nil, ErrAddressRequired
	}
	for _, m := range []Money{subtotal, tax, shippingCost} {
		if !m.Valid() {
			return nil, ErrInvalidCurrency.Withf("order amounts require a currency")
		}
	}

	total, err := sumMoney(subtotal, tax, shippingCost)
	if err != nil {
		return nil, err
	}

	at := now()
	o := &Order{
		id:              uuid.New(),
		userID:          userID,
		billingAddress:  billing,
		shippingAddress: shipping,
		subtotal:        subtotal,
		tax:             tax,
		shippingCost:    shippingCost,
		total:           total,
		status:          OrderStatusPending,
		paymentStatus:   PaymentStatusPending,
		refundedAmount:  Zero(total.Currency()),
		audit:           Audit{CreatedAt: at, UpdatedAt: at},
	}
	o.record(OrderCreatedEvent{eventBase: newEventBase(at), OrderID: o.id, UserID: userID, Total: total})
	return o, nil
}

// NewPaidOrder builds an order whose payment was captured before the order existed.
func NewPaidOrder(userID uuid.UUID, billing, shipping Address, subtotal, tax, shippingCost Money) (*Order, error) {
	o, err := NewOrder(userID, billing, shipping, subtotal, tax, shippingCost)
	if err != nil {
		return nil, err
	}
	o.setPaymentStatus(PaymentStatusSucceeded, "")
	o.record(OrderPaidEvent{eventBase: newEventBase(o.audit.UpdatedAt), OrderID: o.id, Amount: o.total})
	return o, nil
}

func sumMoney(first Money, rest ...Money) (Money, error) {
	total := first
	for _, m := range rest {
		var err error
		total, err = total.AddSafe(m)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// SetActor records the user performing subsequent mutations for the audit fields.
func (o *Order) SetActor(actor string) {
	o.actor = actor
	if o.audit.CreatedBy == "" && o.version == 0 {
		o.audit.CreatedBy = actor
	}
}

func (o *Order) touch() {
	o.audit.UpdatedAt = now()
	if o.actor != "" {
		o.audit.ModifiedBy = o.actor
	}
}

func (o *Order) setStatus(next OrderStatus) {
	prev := o.status
	o.status = next
	o.touch()
	o.record(OrderStatusChangedEvent{eventBase: newEventBase(o.audit.UpdatedAt), OrderID: o.id, OldStatus: prev, NewStatus: next})
}

func (o *Order) setPaymentStatus(next PaymentStatus, reason string) {
	prev := o.paymentStatus
	o.paymentStatus = next
	o.touch()
	o.record(OrderPaymentStatusChangedEvent{
		eventBase: newEventBase(o.audit.UpdatedAt),
		OrderID:   o.id,
		OldStatus: prev,
		NewStatus: next,
		Reason:    reason,
	})
}

func (o *Order) IsPaid() bool { return o.paymentStatus == PaymentStatusSucceeded }

// IsTerminal reports whether the order can no longer move forward.
func (o *Order) IsTerminal() bool {
	switch o.status {
	case OrderStatusCancelled, OrderStatusReturned, OrderStatusReturnedAndRefunded:
		return true
	}
	return false
}

func (o *Order) isOpen() bool {
	return o.status == OrderStatusPending || o.status == OrderStatusProcessing
}

func (o *Order) ensureMutableItems() error {
	if o.status != OrderStatusPending {
		return ErrInvalidStatus.Withf("items can only change while the order is pending, order is %s", o.status)
	}
	if o.paymentStatus == PaymentStatusSucceeded || o.paymentStatus == PaymentStatusProcessing {
		return ErrInvalidStatus.Withf("items cannot change once payment is %s", o.paymentStatus)
	}
	return nil
}

func (o *Order) AddItem(productID uuid.UUID, variantID uuid.NullUUID, quantity int, unitPrice Money, snapshot ProductSnapshot) (*OrderItem, error) {
	if err := o.ensureMutableItems(); err != nil {
		return nil, err
	}
	item, err := newOrderItem(o, productID, variantID, quantity, unitPrice, snapshot)
	if err != nil {
		return nil, err
	}
	if item.unitPrice.Currency() != o.total.Currency() {
		return nil, ErrCurrencyMismatch.Withf("item priced in %s, order in %s", item.unitPrice.Currency(), o.total.Currency())
	}

	o.items = append(o.items, item)
	if err := o.recalculate(); err != nil {
		o.items = o.items[:len(o.items)-1]
		return nil, err
	}
	o.touch()
	return item, nil
}

func (o *Order) RemoveItem(itemID uuid.UUID) error {
	if err := o.ensureMutableItems(); err != nil {
		return err
	}
	idx := o.itemIndex(itemID)
	if idx < 0 {
		return ErrItemNotFound.Withf("order item %s not found", itemID)
	}
	prev := o.items
	kept := make([]*OrderItem, 0, len(prev)-1)
	kept = append(kept, prev[:idx]...)
	o.items = append(kept, prev[idx+1:]...)
	if err := o.recalculate(); err != nil {
		o.items = prev
		return err
	}
	o.touch()
	return nil
}

func (o *Order) UpdateItemQuantity(itemID uuid.UUID, quantity int) error {
	if err := o.ensureMutableItems(); err != nil {
		return err
	}
	idx := o.itemIndex(itemID)
	if idx < 0 {
		return ErrItemNotFound.Withf("order item %s not found", itemID)
	}
	item := o.items[idx]
	prevQuantity, prevTotal := item.quantity, item.totalPrice
	if err := item.updateQuantity(quantity); err != nil {
		return err
	}
	if err := o.recalculate(); err != nil {
		item.quantity, item.totalPrice = prevQuantity, prevTotal
		return err
	}
	o.touch()
	return nil
}

func (o *Order) itemIndex(itemID uuid.UUID) int {
	for i, item := range o.items {
		if item.id == itemID {
			return i
		}
	}
	return -1
}

// recalculate derives the subtotal from the items and the total from its components.
func (o *Order) recalculate() error {
	subtotal := Zero(o.total.Currency())
	for _, item := range o.items {
		var err error
		subtotal, err = subtotal.AddSafe(item.totalPrice)
		if err != nil {
			return err
		}
	}
	total, err := sumMoney(subtotal, o.tax, o.shippingCost)
	if err != nil {
		return err
	}
	o.subtotal = subtotal
	o.total = total
	return nil
}

// MarkPaymentProcessing records that a payment attempt was submitted to a provider.
func (o *Order) MarkPaymentProcessing() error {
	if !o.isOpen() {
		return ErrInvalidStatus.Withf("cannot start a payment for a %s order", o.status)
	}
	if o.paymentStatus != PaymentStatusPending && o.paymentStatus != PaymentStatusFailed {
		return ErrInvalidStatus.Withf("cannot start a payment while payment is %s", o.paymentStatus)
	}
	o.setPaymentStatus(PaymentStatusProcessing, "")
	return nil
}

// MarkPaymentFailed records a failed attempt; the order stays open for a retry.
func (o *Order) MarkPaymentFailed(reason string) error {
	if o.paymentStatus == PaymentStatusSucceeded {
		return ErrInvalidStatus.Withf("order is already paid")
	}
	if o.paymentStatus == PaymentStatusFailed {
		return ErrInvalidStatus.Withf("payment is already marked as failed")
	}
	if !o.isOpen() {
		return ErrInvalidStatus.Withf("cannot record a payment failure for a %s order", o.status)
	}
	o.setPaymentStatus(PaymentStatusFailed, reason)
	return nil
}

func (o *Order) MarkAsPaid() error {
	if o.paymentStatus == PaymentStatusSucceeded {
		return ErrInvalidStatus.Withf("order %s is already paid", o.id)
	}
	if !o.isOpen() {
		return ErrInvalidStatus.Withf("cannot mark a %s order as paid", o.status)
	}
	o.setPaymentStatus(PaymentStatusSucceeded, "")
	o.record(OrderPaidEvent{eventBase: newEventBase(o.audit.UpdatedAt), OrderID: o.id, Amount: o.total})
	return nil
}

// StartProcessing moves a paid order into fulfilment.
func (o *Order) StartProcessing() error {
	if o.status != OrderStatusPending {
		return ErrInvalidStatus.Withf("cannot start processing a %s order", o.status)
	}
	if !o.IsPaid() {
		return ErrPaymentRequired
	}
	o.setStatus(OrderStatusProcessing)
	return nil
}

func (o *Order) MarkAsShipped() error {
	if !o.isOpen() {
		return ErrInvalidStatus.Withf("cannot ship a %s order", o.status)
	}
	if !o.IsPaid() {
		return ErrPaymentRequired.Withf("cannot ship an order whose payment is %s", o.paymentStatus)
	}
	o.setStatus(OrderStatusShipped)
	return nil
}

func (o *Order) MarkAsDelivered() error {
	if o.status != OrderStatusShipped {
		return ErrInvalidStatus.Withf("cannot deliver a %s order", o.status)
	}
	if !o.IsPaid() {
		return ErrPaymentRequired.Withf("cannot deliver an order whose payment is %s", o.paymentStatus)
	}
	o.setStatus(OrderStatusDelivered)
	return nil
}

func (o *Order) MarkAsReturned(reason string) error {
	if o.status != OrderStatusShipped && o.status != OrderStatusDelivered {
		return ErrInvalidStatus.Withf("cannot return a %s order", o.status)
	}
	o.setStatus(OrderStatusReturned)
	o.record(OrderReturnedEvent{eventBase: newEventBase(o.audit.UpdatedAt), OrderID: o.id, Reason: reason})
	return nil
}

func (o *Order) ensureRefundable() error {
	if !o.IsPaid() {
		return ErrInvalidStatus.Withf("order %s was never paid", o.id)
	}
	if o.status == OrderStatusReturnedAndRefunded || o.status == OrderStatusCancelled {
		return ErrInvalidStatus.Withf("cannot refund a %s order", o.status)
	}
	if !o.total.GreaterThan(o.refundedAmount) {
		return ErrInvalidStatus.Withf("order %s is already fully refunded", o.id)
	}
	return nil
}

// ProcessRefund refunds whatever part of the paid total has not been refunded yet, so a
// full refund after partial refunds tops refundedAmount up to the total.
func (o *Order) ProcessRefund(reason string) error {
	if err := o.ensureRefundable(); err != nil {
		return err
	}
	remaining, err := o.total.Subtract(o.refundedAmount)
	if err != nil {
		return err
	}
	o.completeRefund(remaining, reason)
	return nil
}

func (o *Order) ProcessPartialRefund(amount Money, reason string) error {
	if err := o.ensureRefundable(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidRefund
	}
	if amount.Currency() != o.total.Currency() {
		return ErrCurrencyMismatch.Withf("refund in %s, order in %s", amount.Currency(), o.total.Currency())
	}
	available, err := o.total.Subtract(o.refundedAmount)
	if err != nil {
		return err
	}
	remaining, err := available.Subtract(amount)
	if err != nil {
		return ErrNegativeAmount.Withf("refund of %s exceeds the refundable %s", amount, available)
	}
	if remaining.IsZero() {
		o.completeRefund(amount, reason)
		return nil
	}

	refunded := o.refundedAmount.Add(amount)
	at := now()
	o.refundedAmount = refunded
	o.refundReason = reason
	o.refundedAt = &at
	o.touch()
	o.record(OrderPartiallyRefundedEvent{
		eventBase:     newEventBase(at),
		OrderID:       o.id,
		Amount:        amount,
		TotalRefunded: refunded,
		Remaining:     remaining,
		Reason:        reason,
	})
	return nil
}

func (o *Order) completeRefund(amount Money, reason string) {
	at := now()
	o.refundedAmount = o.total
	o.refundReason = reason
	o.refundedAt = &at
	o.setStatus(OrderStatusReturnedAndRefunded)
	o.record(OrderRefundedEvent{
		eventBase:     newEventBase(at),
		OrderID:       o.id,
		Amount:        amount,
		TotalRefunded: o.total,
		Reason:        reason,
	})
}

// Cancel is only available before fulfilment and before payment succeeds. Paid or shipped
// orders go through return and refund instead.
func (o *Order) Cancel(reason string) error {
	if !o.isOpen() {
		return ErrInvalidStatus.Withf("cannot cancel a %s order", o.status)
	}
	if o.IsPaid() {
		return ErrInvalidStatus.Withf("cannot cancel a paid order, refund it instead")
	}
	o.setStatus(OrderStatusCancelled)
	o.record(OrderCancelledEvent{eventBase: newEventBase(o.audit.UpdatedAt), OrderID: o.id, Reason: reason})
	return nil
}

func (o *Order) ID() uuid.UUID                { return o.id }
func (o *Order) UserID() uuid.UUID            { return o.userID }
func (o *Order) BillingAddress() Address      { return o.billingAddress }
func (o *Order) ShippingAddress() Address     { return o.shippingAddress }
func (o *Order) Subtotal() Money              { return o.subtotal }
func (o *Order) Tax() Money                   { return o.tax }
func (o *Order) ShippingCost() Money          { return o.shippingCost }
func (o *Order) Total() Money                 { return o.total }
func (o *Order) Status() OrderStatus          { return o.status }
func (o *Order) PaymentStatus() PaymentStatus { return o.paymentStatus }
func (o *Order) RefundedAmount() Money        { return o.refundedAmount }
func (o *Order) RefundReason() string         { return o.refundReason }
func (o *Order) RefundedAt() *time.Time       { return o.refundedAt }
func (o *Order) Audit() Audit                 { return o.audit }
func (o *Order) Version() int                 { return o.version }

// Items returns a copy of the item list; the items themselves are read-only outside the package.
func (o *Order) Items() []*OrderItem {
	out := make([]*OrderItem, len(o.items))
	copy(out, o.items)
	return out
}

// Persisted is called by repositories after a successful write.
func (o *Order) Persisted(version int) {
	o.version = version
}

// OrderState is the persisted form of an Order, used only by repositories.
type OrderState struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	BillingAddress  Address
	ShippingAddress Address
	Items           []OrderItemState
	Subtotal        Money
	Tax             Money
	ShippingCost    Money
	Total           Money
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	RefundedAmount  Money
	RefundReason    string
	RefundedAt      *time.Time
	Audit           Audit
	Version         int
}

func (o *Order) State() OrderState {
	items := make([]OrderItemState, len(o.items))
	for i, item := range o.items {
		items[i] = item.State()
	}
	return OrderState{
		ID:              o.id,
		UserID:          o.userID,
		BillingAddress:  o.billingAddress,
		ShippingAddress: o.shippingAddress,
		Items:           items,
		Subtotal:        o.subtotal,
		Tax:             o.tax,
		ShippingCost:    o.shippingCost,
		Total:           o.total,
		Status:          o.status,
		PaymentStatus:   o.paymentStatus,
		RefundedAmount:  o.refundedAmount,
		RefundReason:    o.refundReason,
		RefundedAt:      o.refundedAt,
		Audit:           o.audit,
		Version:         o.version,
	}
}

// RehydrateOrder rebuilds an Order loaded from storage. No events are raised.
func RehydrateOrder(s OrderState) *Order {
	items := make([]*OrderItem, len(s.Items))
	for i, item := range s.Items {
		items[i] = rehydrateItem(item)
	}
	return &Order{
		id:              s.ID,
		userID:          s.UserID,
		billingAddress:  s.BillingAddress,
		shippingAddress: s.ShippingAddress,
		items:           items,
		subtotal:        s.Subtotal,
		tax:             s.Tax,
		shippingCost:    s.ShippingCost,
		total:           s.Total,
		status:          s.Status,
		paymentStatus:   s.PaymentStatus,
		refundedAmount:  s.RefundedAmount,
		refundReason:    s.RefundReason,
		refundedAt:      s.RefundedAt,
		audit:           s.Audit,
		version:         s.Version,
	}
}
