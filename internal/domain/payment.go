package domain

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PaymentMethodType string

const (
	PaymentMethodCard           PaymentMethodType = "CARD"
	PaymentMethodBankTransfer   PaymentMethodType = "BANK_TRANSFER"
	PaymentMethodWallet         PaymentMethodType = "WALLET"
	PaymentMethodCashOnDelivery PaymentMethodType = "CASH_ON_DELIVERY"
)

func (t PaymentMethodType) Valid() bool {
	switch t {
	case PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodWallet, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

// paymentTransitions lists the statuses reachable from each status. Failed may go back to
// Processing when the attempt is retried; Succeeded is final.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusSucceeded, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusSucceeded, PaymentStatusFailed},
	PaymentStatusFailed:     {PaymentStatusProcessing},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Payment tracks one payment attempt for an order.
type Payment struct {
	id                uuid.UUID
	orderID           uuid.UUID
	userID            uuid.NullUUID
	amount            Money
	methodType        PaymentMethodType
	provider          string
	status            PaymentStatus
	externalReference string
	transactionID     string
	paymentMethodID   string
	processedAt       *time.Time
	errorMessage      string
	metadata          map[string]string
	audit             Audit
	version           int
	actor             string

	eventBuffer
}

func NewPayment(orderID uuid.UUID, userID uuid.NullUUID, amount Money, methodType PaymentMethodType, provider string, metadata map[string]string) (*Payment, error) {
	if orderID == uuid.Nil {
		return nil, ErrOrderRequired.Withf("payment requires an order")
	}
	if !amount.Valid() || !amount.IsPositive() {
		return nil, ErrInvalidPaymentAmount
	}
	if !methodType.Valid() {
		return nil, ErrInvalidPaymentMethod.Withf("payment method %q is not supported", methodType)
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, ErrProviderRequired
	}

	at := now()
	md := maps.Clone(metadata)
	if md == nil {
		md = map[string]string{}
	}
	return &Payment{
		id:         uuid.New(),
		orderID:    orderID,
		userID:     userID,
		amount:     amount,
		methodType: methodType,
		provider:   provider,
		status:     PaymentStatusPending,
		metadata:   md,
		audit:      Audit{CreatedAt: at, UpdatedAt: at},
	}, nil
}

// NewPaymentForOrder starts an attempt for the order's full total.
func NewPaymentForOrder(order *Order, methodType PaymentMethodType, provider string, metadata map[string]string) (*Payment, error) {
	if order == nil {
		return nil, ErrOrderRequired
	}
	if order.IsPaid() {
		return nil, ErrInvalidStatus.Withf("order %s is already paid", order.ID())
	}
	if !order.isOpen() {
		return nil, ErrInvalidStatus.Withf("cannot pay for a %s order", order.Status())
	}
	userID := uuid.NullUUID{UUID: order.UserID(), Valid: true}
	return NewPayment(order.ID(), userID, order.Total(), methodType, provider, metadata)
}

func (p *Payment) SetActor(actor string) {
	p.actor = actor
	if p.audit.CreatedBy == "" && p.version == 0 {
		p.audit.CreatedBy = actor
	}
}

func (p *Payment) touch() {
	p.audit.UpdatedAt = now()
	if p.actor != "" {
		p.audit.ModifiedBy = p.actor
	}
}

func (p *Payment) transition(next PaymentStatus) error {
	if !CanTransitionPayment(p.status, next) {
		return ErrInvalidPaymentTransition.Withf("payment %s cannot move from %s to %s", p.id, p.status, next)
	}
	prev := p.status
	p.status = next
	p.touch()
	p.record(PaymentStatusChangedEvent{
		eventBase: newEventBase(p.audit.UpdatedAt),
		PaymentID: p.id,
		OrderID:   p.orderID,
		OldStatus: prev,
		NewStatus: next,
	})
	return nil
}

// MarkProcessing records submission to the provider. Calling it on a failed payment is a retry.
func (p *Payment) MarkProcessing(externalReference string) error {
	if err := p.transition(PaymentStatusProcessing); err != nil {
		return err
	}
	if externalReference != "" {
		p.externalReference = externalReference
	}
	p.errorMessage = ""
	p.processedAt = nil
	return nil
}

func (p *Payment) MarkSucceeded(transactionID string) error {
	if err := p.transition(PaymentStatusSucceeded); err != nil {
		return err
	}
	at := p.audit.UpdatedAt
	p.transactionID = transactionID
	p.processedAt = &at
	p.errorMessage = ""
	return nil
}

func (p *Payment) MarkFailed(message string) error {
	if err := p.transition(PaymentStatusFailed); err != nil {
		return err
	}
	at := p.audit.UpdatedAt
	p.processedAt = &at
	p.errorMessage = message
	return nil
}

func (p *Payment) SetPaymentMethod(paymentMethodID string) {
	p.paymentMethodID = paymentMethodID
	p.touch()
}

func (p *Payment) ID() uuid.UUID                 { return p.id }
func (p *Payment) OrderID() uuid.UUID            { return p.orderID }
func (p *Payment) UserID() uuid.NullUUID         { return p.userID }
func (p *Payment) Amount() Money                 { return p.amount }
func (p *Payment) MethodType() PaymentMethodType { return p.methodType }
func (p *Payment) Provider() string              { return p.provider }
func (p *Payment) Status() PaymentStatus         { return p.status }
func (p *Payment) ExternalReference() string     { return p.externalReference }
func (p *Payment) TransactionID() string         { return p.transactionID }
func (p *Payment) PaymentMethodID() string       { return p.paymentMethodID }
func (p *Payment) ProcessedAt() *time.Time       { return p.processedAt }
func (p *Payment) ErrorMessage() string          { return p.errorMessage }
func (p *Payment) Audit() Audit                  { return p.audit }
func (p *Payment) Version() int                  { return p.version }
func (p *Payment) Metadata() map[string]string   { return maps.Clone(p.metadata) }

func (p *Payment) Persisted(version int) {
	p.version = version
}

// PaymentState is the persisted form of a Payment.
type PaymentState struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	UserID            uuid.NullUUID
	Amount            Money
	MethodType        PaymentMethodType
	Provider          string
	Status            PaymentStatus
	ExternalReference string
	TransactionID     string
	PaymentMethodID   string
	ProcessedAt       *time.Time
	ErrorMessage      string
	Metadata          map[string]string
	Audit             Audit
	Version           int
}

func (p *Payment) State() PaymentState {
	return PaymentState{
		ID:                p.id,
		OrderID:           p.orderID,
		UserID:            p.userID,
		Amount:            p.amount,
		MethodType:        p.methodType,
		Provider:          p.provider,
		Status:            p.status,
		ExternalReference: p.externalReference,
		TransactionID:     p.transactionID,
		PaymentMethodID:   p.paymentMethodID,
		ProcessedAt:       p.processedAt,
		ErrorMessage:      p.errorMessage,
		Metadata:          maps.Clone(p.metadata),
		Audit:             p.audit,
		Version:           p.version,
	}
}

func RehydratePayment(s PaymentState) *Payment {
	md := maps.Clone(s.Metadata)
	if md == nil {
		md = map[string]string{}
	}
	return &Payment{
		id:                s.ID,
		orderID:           s.OrderID,
		userID:            s.UserID,
		amount:            s.Amount,
		methodType:        s.MethodType,
		provider:          s.Provider,
		status:            s.Status,
		externalReference: s.ExternalReference,
		transactionID:     s.TransactionID,
		paymentMethodID:   s.PaymentMethodID,
		processedAt:       s.ProcessedAt,
		errorMessage:      s.ErrorMessage,
		metadata:          md,
		audit:             s.Audit,
		version:           s.Version,
	}
}
