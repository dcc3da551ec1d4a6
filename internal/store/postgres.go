package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Postgres struct {
	db   *sql.DB
	opts database.TxOptions
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an open pool. Transactions retry serialization failures, deadlocks and
// lock timeouts up to maxRetries times.
func NewPostgres(db *sql.DB, maxRetries int) *Postgres {
	opts := database.DefaultTxOptions()
	opts.MaxRetries = maxRetries
	return &Postgres{db: db, opts: opts}
}

func (p *Postgres) WithTx(ctx context.Context, fn func(Tx) error) error {
	return database.WithRetry(ctx, p.db, p.opts, func(tx *sql.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

func (p *Postgres) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, p.db, id)
}

func (p *Postgres) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return getPayment(ctx, p.db, id)
}

func (p *Postgres) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	return listPaymentsByOrder(ctx, p.db, orderID)
}

type pgTx struct {
	q querier
}

func (t *pgTx) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, t.q, id)
}

func (t *pgTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	return insertOrder(ctx, t.q, order)
}

func (t *pgTx) UpdateOrder(ctx context.Context, order *domain.Order) error {
	return updateOrder(ctx, t.q, order)
}

func (t *pgTx) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return getPayment(ctx, t.q, id)
}

func (t *pgTx) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return getPaymentByTransactionID(ctx, t.q, transactionID)
}

func (t *pgTx) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	return listPaymentsByOrder(ctx, t.q, orderID)
}

func (t *pgTx) InsertPayment(ctx context.Context, payment *domain.Payment) error {
	return insertPayment(ctx, t.q, payment)
}

func (t *pgTx) UpdatePayment(ctx context.Context, payment *domain.Payment) error {
	return updatePayment(ctx, t.q, payment)
}

func (t *pgTx) LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	return lockProducts(ctx, t.q, ids)
}

func (t *pgTx) DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) error {
	return decrementStock(ctx, t.q, productID, quantity)
}

func (t *pgTx) IncrementStock(ctx context.Context, productID uuid.UUID, quantity int) error {
	return incrementStock(ctx, t.q, productID, quantity)
}

func (t *pgTx) AppendEvents(ctx context.Context, events []domain.Event) error {
	return appendEvents(ctx, t.q, events)
}
