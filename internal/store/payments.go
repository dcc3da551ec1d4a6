package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/shopspring/decimal"
)

const paymentColumns = `id, order_id, user_id, amount, currency, method_type, provider, status,
	external_reference, transaction_id, payment_method_id, processed_at, error_message, metadata,
	created_at, created_by, updated_at, modified_by, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		s                 domain.PaymentState
		amount            decimal.Decimal
		currency          string
		externalReference sql.NullString
		transactionID     sql.NullString
		paymentMethodID   sql.NullString
		processedAt       sql.NullTime
		errorMessage      sql.NullString
		metadata          []byte
	)

	err := row.Scan(
		&s.ID,
		&s.OrderID,
		&s.UserID,
		&amount,
		&currency,
		&s.MethodType,
		&s.Provider,
		&s.Status,
		&externalReference,
		&transactionID,
		&paymentMethodID,
		&processedAt,
		&errorMessage,
		&metadata,
		&s.Audit.CreatedAt,
		&s.Audit.CreatedBy,
		&s.Audit.UpdatedAt,
		&s.Audit.ModifiedBy,
		&s.Version,
	)
	if err != nil {
		return nil, err
	}

	if s.Amount, err = domain.NewMoney(amount, currency); err != nil {
		return nil, fmt.Errorf("decode payment amount: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode payment metadata: %w", err)
		}
	}

	s.ExternalReference = externalReference.String
	s.TransactionID = transactionID.String
	s.PaymentMethodID = paymentMethodID.String
	s.ErrorMessage = errorMessage.String
	if processedAt.Valid {
		at := processedAt.Time
		s.ProcessedAt = &at
	}

	return domain.RehydratePayment(s), nil
}

func getPayment(ctx context.Context, q querier, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	payment, err := scanPayment(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}

func getPaymentByTransactionID(ctx context.Context, q querier, transactionID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1`

	payment, err := scanPayment(q.QueryRowContext(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by transaction: %w", err)
	}
	return payment, nil
}

func queryPayments(ctx context.Context, q querier, query string, args ...any) ([]*domain.Payment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, payment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return payments, nil
}

func listPaymentsByOrder(ctx context.Context, q querier, orderID uuid.UUID) ([]*domain.Payment, error) {
	return queryPayments(ctx, q,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at, id`,
		orderID)
}

func insertPayment(ctx context.Context, q querier, payment *domain.Payment) error {
	s := payment.State()

	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("encode payment metadata: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 1)`,
		s.ID, s.OrderID, s.UserID, s.Amount.Amount(), s.Amount.Currency(),
		s.MethodType, s.Provider, s.Status,
		nullString(s.ExternalReference), nullString(s.TransactionID), nullString(s.PaymentMethodID),
		s.ProcessedAt, nullString(s.ErrorMessage), metadata,
		s.Audit.CreatedAt, s.Audit.CreatedBy, s.Audit.UpdatedAt, s.Audit.ModifiedBy)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: payment %s already exists", database.ErrConcurrencyConflict, s.ID)
		}
		return fmt.Errorf("create payment: %w", err)
	}

	payment.Persisted(1)
	return nil
}

func updatePayment(ctx context.Context, q querier, payment *domain.Payment) error {
	s := payment.State()

	result, err := q.ExecContext(ctx,
		`UPDATE payments
		 SET status = $1,
		     external_reference = $2,
		     transaction_id = $3,
		     payment_method_id = $4,
		     processed_at = $5,
		     error_message = $6,
		     updated_at = $7,
		     modified_by = $8,
		     version = version + 1
		 WHERE id = $9 AND version = $10`,
		s.Status, nullString(s.ExternalReference), nullString(s.TransactionID),
		nullString(s.PaymentMethodID), s.ProcessedAt, nullString(s.ErrorMessage),
		s.Audit.UpdatedAt, s.Audit.ModifiedBy,
		s.ID, s.Version)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: transaction %s is already recorded", database.ErrConcurrencyConflict, s.TransactionID)
		}
		return fmt.Errorf("update payment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrConcurrencyConflict
	}

	payment.Persisted(s.Version + 1)
	return nil
}

func (p *Postgres) ListStaleProcessingPayments(ctx context.Context, before time.Time, limit int) ([]*domain.Payment, error) {
	return queryPayments(ctx, p.db,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at
		 LIMIT $3`,
		domain.PaymentStatusProcessing, before, limit)
}
