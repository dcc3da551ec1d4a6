package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/shopspring/decimal"
)

type addressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address(a)
}

type lineItemRequest struct {
	ProductID  uuid.UUID         `json:"product_id" binding:"required"`
	VariantID  *uuid.UUID        `json:"variant_id"`
	Quantity   int               `json:"quantity"`
	Attributes map[string]string `json:"attributes"`
}

type placeOrderRequest struct {
	BillingAddress  addressRequest    `json:"billing_address"`
	ShippingAddress addressRequest    `json:"shipping_address"`
	Items           []lineItemRequest `json:"items"`
	Tax             decimal.Decimal   `json:"tax"`
	ShippingCost    decimal.Decimal   `json:"shipping_cost"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type partialRefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type submitPaymentRequest struct {
	MethodType      string            `json:"method_type"`
	PaymentMethodID string            `json:"payment_method_id"`
	Metadata        map[string]string `json:"metadata"`
}

type paymentCallbackRequest struct {
	PaymentID     uuid.UUID `json:"payment_id" binding:"required"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id"`
	Message       string    `json:"message"`
}

type snapshotResponse struct {
	Name       string            `json:"name"`
	SKU        string            `json:"sku"`
	Slug       string            `json:"slug,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type orderItemResponse struct {
	ID         uuid.UUID        `json:"id"`
	ProductID  uuid.UUID        `json:"product_id"`
	VariantID  *uuid.UUID       `json:"variant_id,omitempty"`
	Quantity   int              `json:"quantity"`
	UnitPrice  domain.Money     `json:"unit_price"`
	TotalPrice domain.Money     `json:"total_price"`
	Product    snapshotResponse `json:"product"`
}

type orderResponse struct {
	ID              uuid.UUID            `json:"id"`
	UserID          uuid.UUID            `json:"user_id"`
	Status          domain.OrderStatus   `json:"status"`
	PaymentStatus   domain.PaymentStatus `json:"payment_status"`
	BillingAddress  domain.Address       `json:"billing_address"`
	ShippingAddress domain.Address       `json:"shipping_address"`
	Items           []orderItemResponse  `json:"items"`
	Subtotal        domain.Money         `json:"subtotal"`
	Tax             domain.Money         `json:"tax"`
	ShippingCost    domain.Money         `json:"shipping_cost"`
	Total           domain.Money         `json:"total"`
	RefundedAmount  domain.Money         `json:"refunded_amount"`
	RefundReason    string               `json:"refund_reason,omitempty"`
	RefundedAt      *time.Time           `json:"refunded_at,omitempty"`
	Version         int                  `json:"version"`
	CreatedAt       time.Time            `json:"created_at"`
	CreatedBy       string               `json:"created_by,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
	ModifiedBy      string               `json:"modified_by,omitempty"`
}

func newOrderResponse(o *domain.Order) orderResponse {
	audit := o.Audit()
	items := make([]orderItemResponse, 0, len(o.Items()))
	for _, it := range o.Items() {
		var variant *uuid.UUID
		if v := it.VariantID(); v.Valid {
			variant = &v.UUID
		}
		snap := it.Snapshot()
		items = append(items, orderItemResponse{
			ID:         it.ID(),
			ProductID:  it.ProductID(),
			VariantID:  variant,
			Quantity:   it.Quantity(),
			UnitPrice:  it.UnitPrice(),
			TotalPrice: it.TotalPrice(),
			Product: snapshotResponse{
				Name:       snap.Name(),
				SKU:        snap.SKU(),
				Slug:       snap.Slug(),
				Attributes: snap.Attributes(),
			},
		})
	}

	return orderResponse{
		ID:              o.ID(),
		UserID:          o.UserID(),
		Status:          o.Status(),
		PaymentStatus:   o.PaymentStatus(),
		BillingAddress:  o.BillingAddress(),
		ShippingAddress: o.ShippingAddress(),
		Items:           items,
		Subtotal:        o.Subtotal(),
		Tax:             o.Tax(),
		ShippingCost:    o.ShippingCost(),
		Total:           o.Total(),
		RefundedAmount:  o.RefundedAmount(),
		RefundReason:    o.RefundReason(),
		RefundedAt:      o.RefundedAt(),
		Version:         o.Version(),
		CreatedAt:       audit.CreatedAt,
		CreatedBy:       audit.CreatedBy,
		UpdatedAt:       audit.UpdatedAt,
		ModifiedBy:      audit.ModifiedBy,
	}
}

type paymentResponse struct {
	ID                uuid.UUID                `json:"id"`
	OrderID           uuid.UUID                `json:"order_id"`
	Amount            domain.Money             `json:"amount"`
	MethodType        domain.PaymentMethodType `json:"method_type"`
	Provider          string                   `json:"provider"`
	Status            domain.PaymentStatus     `json:"status"`
	ExternalReference string                   `json:"external_reference,omitempty"`
	TransactionID     string                   `json:"transaction_id,omitempty"`
	ErrorMessage      string                   `json:"error_message,omitempty"`
	ProcessedAt       *time.Time               `json:"processed_at,omitempty"`
	Version           int                      `json:"version"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

func newPaymentResponse(p *domain.Payment) paymentResponse {
	audit := p.Audit()
	return paymentResponse{
		ID:                p.ID(),
		OrderID:           p.OrderID(),
		Amount:            p.Amount(),
		MethodType:        p.MethodType(),
		Provider:          p.Provider(),
		Status:            p.Status(),
		ExternalReference: p.ExternalReference(),
		TransactionID:     p.TransactionID(),
		ErrorMessage:      p.ErrorMessage(),
		ProcessedAt:       p.ProcessedAt(),
		Version:           p.Version(),
		CreatedAt:         audit.CreatedAt,
		UpdatedAt:         audit.UpdatedAt,
	}
}
