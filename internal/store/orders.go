package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/models"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, billing_address, shipping_address, currency,
	subtotal, tax, shipping_cost, total, status, payment_status,
	refunded_amount, refund_reason, refunded_at,
	created_at, created_by, updated_at, modified_by, version`

func getOrder(ctx context.Context, q querier, id uuid.UUID) (*domain.Order, error) {
	var (
		s                   domain.OrderState
		billing, shipping   []byte
		currency            string
		subtotal, tax, ship decimal.Decimal
		total, refunded     decimal.Decimal
		refundReason        sql.NullString
		refundedAt          sql.NullTime
	)

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	err := q.QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.UserID,
		&billing,
		&shipping,
		&currency,
		&subtotal,
		&tax,
		&ship,
		&total,
		&s.Status,
		&s.PaymentStatus,
		&refunded,
		&refundReason,
		&refundedAt,
		&s.Audit.CreatedAt,
		&s.Audit.CreatedBy,
		&s.Audit.UpdatedAt,
		&s.Audit.ModifiedBy,
		&s.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := json.Unmarshal(billing, &s.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	if err := json.Unmarshal(shipping, &s.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}

	amounts := []struct {
		dst *domain.Money
		src decimal.Decimal
	}{
		{&s.Subtotal, subtotal},
		{&s.Tax, tax},
		{&s.ShippingCost, ship},
		{&s.Total, total},
		{&s.RefundedAmount, refunded},
	}
	for _, a := range amounts {
		m, err := domain.NewMoney(a.src, currency)
		if err != nil {
			return nil, fmt.Errorf("decode order %s amount: %w", id, err)
		}
		*a.dst = m
	}

	s.RefundReason = refundReason.String
	if refundedAt.Valid {
		at := refundedAt.Time
		s.RefundedAt = &at
	}

	items, err := getOrderItems(ctx, q, id, currency)
	if err != nil {
		return nil, err
	}
	s.Items = items

	return domain.RehydrateOrder(s), nil
}

func getOrderItems(ctx context.Context, q querier, orderID uuid.UUID, currency string) ([]domain.OrderItemState, error) {
	query := `
		SELECT id, order_id, product_id, variant_id, quantity, unit_price, total_price, product_snapshot, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItemState
	for rows.Next() {
		var (
			item             domain.OrderItemState
			unitPrice, total decimal.Decimal
			snapshot         []byte
		)
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.VariantID,
			&item.Quantity,
			&unitPrice,
			&total,
			&snapshot,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if item.UnitPrice, err = domain.NewMoney(unitPrice, currency); err != nil {
			return nil, fmt.Errorf("decode unit price: %w", err)
		}
		if item.TotalPrice, err = domain.NewMoney(total, currency); err != nil {
			return nil, fmt.Errorf("decode total price: %w", err)
		}
		if err := json.Unmarshal(snapshot, &item.Snapshot); err != nil {
			return nil, fmt.Errorf("decode product snapshot: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func insertOrder(ctx context.Context, q querier, order *domain.Order) error {
	s := order.State()

	billing, err := json.Marshal(s.BillingAddress)
	if err != nil {
		return fmt.Errorf("encode billing address: %w", err)
	}
	shipping, err := json.Marshal(s.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 1)`,
		s.ID, s.UserID, billing, shipping, s.Total.Currency(),
		s.Subtotal.Amount(), s.Tax.Amount(), s.ShippingCost.Amount(), s.Total.Amount(),
		s.Status, s.PaymentStatus,
		s.RefundedAmount.Amount(), nullString(s.RefundReason), s.RefundedAt,
		s.Audit.CreatedAt, s.Audit.CreatedBy, s.Audit.UpdatedAt, s.Audit.ModifiedBy)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: order %s already exists", database.ErrConcurrencyConflict, s.ID)
		}
		return fmt.Errorf("create order: %w", err)
	}

	if err := saveOrderItems(ctx, q, s); err != nil {
		return err
	}

	order.Persisted(1)
	return nil
}

// updateOrder writes the aggregate only if the stored version still matches the one it was
// loaded at, then bumps the version.
func updateOrder(ctx context.Context, q querier, order *domain.Order) error {
	s := order.State()

	result, err := q.ExecContext(ctx,
		`UPDATE orders
		 SET subtotal = $1,
		     total = $2,
		     status = $3,
		     payment_status = $4,
		     refunded_amount = $5,
		     refund_reason = $6,
		     refunded_at = $7,
		     updated_at = $8,
		     modified_by = $9,
		     version = version + 1
		 WHERE id = $10 AND version = $11`,
		s.Subtotal.Amount(), s.Total.Amount(), s.Status, s.PaymentStatus,
		s.RefundedAmount.Amount(), nullString(s.RefundReason), s.RefundedAt,
		s.Audit.UpdatedAt, s.Audit.ModifiedBy,
		s.ID, s.Version)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrConcurrencyConflict
	}

	if err := saveOrderItems(ctx, q, s); err != nil {
		return err
	}

	order.Persisted(s.Version + 1)
	return nil
}

func saveOrderItems(ctx context.Context, q querier, s domain.OrderState) error {
	ids := make([]string, len(s.Items))
	for i, item := range s.Items {
		ids[i] = item.ID.String()
	}

	_, err := q.ExecContext(ctx,
		`DELETE FROM order_items WHERE order_id = $1 AND NOT (id = ANY($2::uuid[]))`,
		s.ID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete removed order items: %w", err)
	}

	for _, item := range s.Items {
		snapshot, err := json.Marshal(item.Snapshot)
		if err != nil {
			return fmt.Errorf("encode product snapshot: %w", err)
		}

		_, err = q.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, product_id, variant_id, quantity, unit_price, total_price, product_snapshot, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE
			 SET quantity = EXCLUDED.quantity,
			     total_price = EXCLUDED.total_price`,
			item.ID, s.ID, item.ProductID, item.VariantID, item.Quantity,
			item.UnitPrice.Amount(), item.TotalPrice.Amount(), snapshot, item.CreatedAt)
		if err != nil {
			return fmt.Errorf("save order item: %w", err)
		}
	}

	return nil
}

func (p *Postgres) ListOrdersByUser(ctx context.Context, userID uuid.UUID, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT id, user_id, status, payment_status, total, currency, created_at, updated_at, version
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := p.db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.OrderSummary
	for rows.Next() {
		var order models.OrderSummary
		err := rows.Scan(
			&order.ID,
			&order.UserID,
			&order.Status,
			&order.PaymentStatus,
			&order.Total,
			&order.Currency,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return NewCursorPage(orders, limit), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
