package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/models"
	"github.com/safar/go-order-lifecycle/internal/store"
)

type tx struct {
	d *data
}

var _ store.Tx = (*tx)(nil)

func (t *tx) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(t.d, id)
}

func (t *tx) InsertOrder(_ context.Context, order *domain.Order) error {
	st := order.State()
	if _, exists := t.d.orders[st.ID]; exists {
		return fmt.Errorf("%w: order %s already exists", database.ErrConcurrencyConflict, st.ID)
	}
	st.Version = 1
	t.d.orders[st.ID] = st
	order.Persisted(1)
	return nil
}

func (t *tx) UpdateOrder(_ context.Context, order *domain.Order) error {
	st := order.State()
	current, ok := t.d.orders[st.ID]
	if !ok || current.Version != st.Version {
		return database.ErrConcurrencyConflict
	}
	st.Version++
	t.d.orders[st.ID] = st
	order.Persisted(st.Version)
	return nil
}

func (t *tx) GetPayment(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	return getPayment(t.d, id)
}

func (t *tx) GetPaymentByTransactionID(_ context.Context, transactionID string) (*domain.Payment, error) {
	for _, st := range t.d.payments {
		if transactionID != "" && st.TransactionID == transactionID {
			return domain.RehydratePayment(st), nil
		}
	}
	return nil, database.ErrPaymentNotFound
}

func (t *tx) ListPaymentsByOrder(_ context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	return listPaymentsByOrder(t.d, orderID), nil
}

func (t *tx) InsertPayment(_ context.Context, payment *domain.Payment) error {
	st := payment.State()
	if _, exists := t.d.payments[st.ID]; exists {
		return fmt.Errorf("%w: payment %s already exists", database.ErrConcurrencyConflict, st.ID)
	}
	if _, ok := t.d.orders[st.OrderID]; !ok {
		return database.ErrOrderNotFound
	}
	st.Version = 1
	t.d.payments[st.ID] = st
	payment.Persisted(1)
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, payment *domain.Payment) error {
	st := payment.State()
	current, ok := t.d.payments[st.ID]
	if !ok || current.Version != st.Version {
		return database.ErrConcurrencyConflict
	}
	if st.TransactionID != "" {
		for id, other := range t.d.payments {
			if id != st.ID && other.TransactionID == st.TransactionID {
				return fmt.Errorf("%w: transaction %s is already recorded", database.ErrConcurrencyConflict, st.TransactionID)
			}
		}
	}
	st.Version++
	t.d.payments[st.ID] = st
	payment.Persisted(st.Version)
	return nil
}

func (t *tx) LockProducts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	out := make(map[uuid.UUID]*models.Product, len(ids))
	for _, id := range ids {
		p, ok := t.d.products[id]
		if !ok {
			return nil, database.ErrProductNotFound
		}
		out[id] = &p
	}
	return out, nil
}

func (t *tx) DecrementStock(_ context.Context, productID uuid.UUID, quantity int) error {
	p, ok := t.d.products[productID]
	if !ok || p.StockQuantity < quantity {
		return database.ErrInsufficientStock
	}
	p.StockQuantity -= quantity
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	t.d.products[productID] = p
	return nil
}

func (t *tx) IncrementStock(_ context.Context, productID uuid.UUID, quantity int) error {
	p, ok := t.d.products[productID]
	if !ok {
		return database.ErrProductNotFound
	}
	p.StockQuantity += quantity
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	t.d.products[productID] = p
	return nil
}

func (t *tx) AppendEvents(_ context.Context, events []domain.Event) error {
	seen := make(map[uuid.UUID]bool, len(t.d.outbox))
	for _, rec := range t.d.outbox {
		seen[rec.EventID] = true
	}

	for _, e := range events {
		rec, err := store.NewOutboxRecord(e)
		if err != nil {
			return err
		}
		if seen[rec.EventID] {
			continue
		}
		t.d.nextID++
		rec.ID = t.d.nextID
		t.d.outbox = append(t.d.outbox, rec)
		seen[rec.EventID] = true
	}

	return nil
}
