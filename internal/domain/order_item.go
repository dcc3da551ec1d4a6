package domain

import (
	"encoding/json"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProductSnapshot freezes the catalog data of a product at order time so an order keeps
// showing what was purchased after the catalog entry changes.
type ProductSnapshot struct {
	name       string
	sku        string
	slug       string
	attributes map[string]string
}

func NewProductSnapshot(name, sku, slug string, attributes map[string]string) (ProductSnapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ProductSnapshot{}, ErrProductSnapshotRequired.Withf("product snapshot requires a name")
	}
	return ProductSnapshot{
		name:       name,
		sku:        strings.TrimSpace(sku),
		slug:       strings.TrimSpace(slug),
		attributes: maps.Clone(attributes),
	}, nil
}

func (s ProductSnapshot) Name() string { return s.name }
func (s ProductSnapshot) SKU() string  { return s.sku }
func (s ProductSnapshot) Slug() string { return s.slug }
func (s ProductSnapshot) IsZero() bool { return s.name == "" }

// Attributes returns a copy of the variant attributes.
func (s ProductSnapshot) Attributes() map[string]string {
	return maps.Clone(s.attributes)
}

type productSnapshotJSON struct {
	Name       string            `json:"name"`
	SKU        string            `json:"sku,omitempty"`
	Slug       string            `json:"slug,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (s ProductSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(productSnapshotJSON{Name: s.name, SKU: s.sku, Slug: s.slug, Attributes: s.attributes})
}

func (s *ProductSnapshot) UnmarshalJSON(data []byte) error {
	var raw productSnapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	snap, err := NewProductSnapshot(raw.Name, raw.SKU, raw.Slug, raw.Attributes)
	if err != nil {
		return err
	}
	*s = snap
	return nil
}

// OrderItem is a line of an Order. It is created and mutated only through its Order.
type OrderItem struct {
	id         uuid.UUID
	orderID    uuid.UUID
	productID  uuid.UUID
	variantID  uuid.NullUUID
	quantity   int
	unitPrice  Money
	totalPrice Money
	snapshot   ProductSnapshot
	createdAt  time.Time
}

func newOrderItem(order *Order, productID uuid.UUID, variantID uuid.NullUUID, quantity int, unitPrice Money, snapshot ProductSnapshot) (*OrderItem, error) {
	if order == nil {
		return nil, ErrOrderRequired
	}
	if productID == uuid.Nil {
		return nil, ErrProductIDRequired
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity.Withf("quantity %d must be greater than zero", quantity)
	}
	if !unitPrice.Valid() {
		return nil, ErrNegativeAmount.Withf("unit price is required")
	}
	if snapshot.IsZero() {
		return nil, ErrProductSnapshotRequired
	}

	total, err := unitPrice.MultiplyInt(quantity)
	if err != nil {
		return nil, err
	}

	return &OrderItem{
		id:         uuid.New(),
		orderID:    order.id,
		productID:  productID,
		variantID:  variantID,
		quantity:   quantity,
		unitPrice:  unitPrice,
		totalPrice: total,
		snapshot:   snapshot,
		createdAt:  now(),
	}, nil
}

func (i *OrderItem) updateQuantity(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity.Withf("quantity %d must be greater than zero", quantity)
	}
	total, err := i.unitPrice.MultiplyInt(quantity)
	if err != nil {
		return err
	}
	i.quantity = quantity
	i.totalPrice = total
	return nil
}

func (i *OrderItem) ID() uuid.UUID              { return i.id }
func (i *OrderItem) OrderID() uuid.UUID         { return i.orderID }
func (i *OrderItem) ProductID() uuid.UUID       { return i.productID }
func (i *OrderItem) VariantID() uuid.NullUUID   { return i.variantID }
func (i *OrderItem) Quantity() int              { return i.quantity }
func (i *OrderItem) UnitPrice() Money           { return i.unitPrice }
func (i *OrderItem) TotalPrice() Money          { return i.totalPrice }
func (i *OrderItem) Snapshot() ProductSnapshot  { return i.snapshot }
func (i *OrderItem) CreatedAt() time.Time       { return i.createdAt }

// OrderItemState is the persisted form of an OrderItem.
type OrderItemState struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	ProductID  uuid.UUID
	VariantID  uuid.NullUUID
	Quantity   int
	UnitPrice  Money
	TotalPrice Money
	Snapshot   ProductSnapshot
	CreatedAt  time.Time
}

func (i *OrderItem) State() OrderItemState {
	return OrderItemState{
		ID:         i.id,
		OrderID:    i.orderID,
		ProductID:  i.productID,
		VariantID:  i.variantID,
		Quantity:   i.quantity,
		UnitPrice:  i.unitPrice,
		TotalPrice: i.totalPrice,
		Snapshot:   i.snapshot,
		CreatedAt:  i.createdAt,
	}
}

func rehydrateItem(s OrderItemState) *OrderItem {
	return &OrderItem{
		id:         s.ID,
		orderID:    s.OrderID,
		productID:  s.ProductID,
		variantID:  s.VariantID,
		quantity:   s.Quantity,
		unitPrice:  s.UnitPrice,
		totalPrice: s.TotalPrice,
		snapshot:   s.Snapshot,
		createdAt:  s.CreatedAt,
	}
}
