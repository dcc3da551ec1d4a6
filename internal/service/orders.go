package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/models"
	"github.com/safar/go-order-lifecycle/internal/store"
	"github.com/shopspring/decimal"
)

type LineItem struct {
	ProductID  uuid.UUID
	VariantID  uuid.NullUUID
	Quantity   int
	Attributes map[string]string
}

type PlaceOrderInput struct {
	UserID          uuid.UUID
	BillingAddress  domain.Address
	ShippingAddress domain.Address
	Items           []LineItem
	Tax             decimal.Decimal
	ShippingCost    decimal.Decimal
}

// PlaceOrder prices the lines from the locked product rows, snapshots each product into its
// item, deducts stock and stores the order in one transaction.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	if len(in.Items) == 0 {
		return nil, domain.ErrInvalidQuantity.Withf("an order needs at least one item")
	}

	var order *domain.Order
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		ids := make([]uuid.UUID, len(in.Items))
		for i, line := range in.Items {
			ids[i] = line.ProductID
		}
		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}

		subtotal, err := priceLines(in.Items, products)
		if err != nil {
			return err
		}
		currency := subtotal.Currency()

		tax, err := domain.NewMoney(in.Tax, currency)
		if err != nil {
			return err
		}
		shippingCost, err := domain.NewMoney(in.ShippingCost, currency)
		if err != nil {
			return err
		}

		o, err := domain.NewOrder(in.UserID, in.BillingAddress, in.ShippingAddress, subtotal, tax, shippingCost)
		if err != nil {
			return err
		}
		o.SetActor(ActorFrom(ctx))

		for _, line := range in.Items {
			if err := addLine(ctx, tx, o, products[line.ProductID], line); err != nil {
				return err
			}
		}

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, o.Events()); err != nil {
			return err
		}
		order = o
		return nil
	})
	s.observe("place_order", err)
	if err != nil {
		return nil, err
	}

	order.PullEvents()
	s.logger.Info("order placed",
		"order_id", order.ID(),
		"user_id", order.UserID(),
		"items", len(order.Items()),
		"total", order.Total().String())
	return order, nil
}

func priceLines(lines []LineItem, products map[uuid.UUID]*models.Product) (domain.Money, error) {
	var subtotal domain.Money
	for i, line := range lines {
		p, ok := products[line.ProductID]
		if !ok {
			return domain.Money{}, database.ErrProductNotFound
		}
		if line.Quantity <= 0 {
			return domain.Money{}, domain.ErrInvalidQuantity
		}
		unit, err := domain.NewMoney(p.Price, p.Currency)
		if err != nil {
			return domain.Money{}, err
		}
		lineTotal, err := unit.MultiplyInt(line.Quantity)
		if err != nil {
			return domain.Money{}, err
		}
		if i == 0 {
			subtotal = lineTotal
			continue
		}
		if subtotal, err = subtotal.AddSafe(lineTotal); err != nil {
			return domain.Money{}, err
		}
	}
	return subtotal, nil
}

// addLine snapshots the product into a new item and takes the quantity out of stock.
func addLine(ctx context.Context, tx store.Tx, order *domain.Order, p *models.Product, line LineItem) error {
	if p == nil {
		return database.ErrProductNotFound
	}
	unit, err := domain.NewMoney(p.Price, p.Currency)
	if err != nil {
		return err
	}
	snapshot, err := domain.NewProductSnapshot(p.Name, p.SKU, p.Slug, line.Attributes)
	if err != nil {
		return err
	}
	if _, err := order.AddItem(p.ID, line.VariantID, line.Quantity, unit, snapshot); err != nil {
		return err
	}
	return tx.DecrementStock(ctx, p.ID, line.Quantity)
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID, cursor string, limit int) (*store.CursorPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListOrdersByUser(ctx, userID, cursor, limit)
}

// mutateOrder loads the order, applies fn and saves the result with its events. fn may touch
// other rows through tx, such as stock.
func (s *Service) mutateOrder(ctx context.Context, command string, ref OrderRef, fn func(store.Tx, *domain.Order) error) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, ref.ID)
		if err != nil {
			return err
		}
		if err := checkVersion(o, ref.Version); err != nil {
			return err
		}
		o.SetActor(ActorFrom(ctx))

		if err := fn(tx, o); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, o.Events()); err != nil {
			return err
		}
		order = o
		return nil
	})
	s.observe(command, err)
	if err != nil {
		s.logger.Debug("order command rejected", "command", command, "order_id", ref.ID, "error", err)
		return nil, err
	}

	order.PullEvents()
	s.logger.Info("order updated",
		"command", command,
		"order_id", order.ID(),
		"status", order.Status(),
		"payment_status", order.PaymentStatus(),
		"version", order.Version())
	return order, nil
}

func (s *Service) AddItem(ctx context.Context, ref OrderRef, line LineItem) (*domain.Order, error) {
	return s.mutateOrder(ctx, "add_item", ref, func(tx store.Tx, o *domain.Order) error {
		products, err := tx.LockProducts(ctx, []uuid.UUID{line.ProductID})
		if err != nil {
			return err
		}
		return addLine(ctx, tx, o, products[line.ProductID], line)
	})
}

func (s *Service) RemoveItem(ctx context.Context, ref OrderRef, itemID uuid.UUID) (*domain.Order, error) {
	return s.mutateOrder(ctx, "remove_item", ref, func(tx store.Tx, o *domain.Order) error {
		item, err := findItem(o, itemID)
		if err != nil {
			return err
		}
		if err := o.RemoveItem(itemID); err != nil {
			return err
		}
		return tx.IncrementStock(ctx, item.ProductID(), item.Quantity())
	})
}

func (s *Service) UpdateItemQuantity(ctx context.Context, ref OrderRef, itemID uuid.UUID, quantity int) (*domain.Order, error) {
	return s.mutateOrder(ctx, "update_item_quantity", ref, func(tx store.Tx, o *domain.Order) error {
		item, err := findItem(o, itemID)
		if err != nil {
			return err
		}
		delta := quantity - item.Quantity()
		if err := o.UpdateItemQuantity(itemID, quantity); err != nil {
			return err
		}
		switch {
		case delta > 0:
			if _, err := tx.LockProducts(ctx, []uuid.UUID{item.ProductID()}); err != nil {
				return err
			}
			return tx.DecrementStock(ctx, item.ProductID(), delta)
		case delta < 0:
			return tx.IncrementStock(ctx, item.ProductID(), -delta)
		}
		return nil
	})
}

func findItem(o *domain.Order, itemID uuid.UUID) (*domain.OrderItem, error) {
	for _, item := range o.Items() {
		if item.ID() == itemID {
			return item, nil
		}
	}
	return nil, domain.ErrItemNotFound.Withf("item %s is not part of order %s", itemID, o.ID())
}

// MarkPaid records a payment captured outside the gateway flow, such as cash on delivery.
func (s *Service) MarkPaid(ctx context.Context, ref OrderRef) (*domain.Order, error) {
	return s.mutateOrder(ctx, "mark_paid", ref, func(_ store.Tx, o *domain.Order) error {
		return o.MarkAsPaid()
	})
}

func (s *Service) StartProcessing(ctx context.Context, ref OrderRef) (*domain.Order, error) {
	return s.mutateOrder(ctx, "start_processing", ref, func(_ store.Tx, o *domain.Order) error {
		return o.StartProcessing()
	})
}

func (s *Service) Ship(ctx context.Context, ref OrderRef) (*domain.Order, error) {
	return s.mutateOrder(ctx, "ship", ref, func(_ store.Tx, o *domain.Order) error {
		return o.MarkAsShipped()
	})
}

func (s *Service) Deliver(ctx context.Context, ref OrderRef) (*domain.Order, error) {
	return s.mutateOrder(ctx, "deliver", ref, func(_ store.Tx, o *domain.Order) error {
		return o.MarkAsDelivered()
	})
}

func (s *Service) Return(ctx context.Context, ref OrderRef, reason string) (*domain.Order, error) {
	return s.mutateOrder(ctx, "return", ref, func(_ store.Tx, o *domain.Order) error {
		return o.MarkAsReturned(reason)
	})
}

func (s *Service) Refund(ctx context.Context, ref OrderRef, reason string) (*domain.Order, error) {
	return s.mutateOrder(ctx, "refund", ref, func(_ store.Tx, o *domain.Order) error {
		return o.ProcessRefund(reason)
	})
}

// PartialRefund refunds amount in the order's currency.
func (s *Service) PartialRefund(ctx context.Context, ref OrderRef, amount decimal.Decimal, reason string) (*domain.Order, error) {
	return s.mutateOrder(ctx, "partial_refund", ref, func(_ store.Tx, o *domain.Order) error {
		m, err := domain.NewMoney(amount, o.Total().Currency())
		if err != nil {
			return err
		}
		return o.ProcessPartialRefund(m, reason)
	})
}

// Cancel closes an unpaid order and puts its items back in stock.
func (s *Service) Cancel(ctx context.Context, ref OrderRef, reason string) (*domain.Order, error) {
	return s.mutateOrder(ctx, "cancel", ref, func(tx store.Tx, o *domain.Order) error {
		if err := o.Cancel(reason); err != nil {
			return err
		}
		for _, item := range o.Items() {
			if err := tx.IncrementStock(ctx, item.ProductID(), item.Quantity()); err != nil {
				return fmt.Errorf("restock %s: %w", item.ProductID(), err)
			}
		}
		return nil
	})
}
