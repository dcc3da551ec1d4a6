package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/models"
)

// Store is the persistence boundary used by the command handlers. Aggregates loaded through
// a Tx are saved with an optimistic version check; a stale save fails with
// database.ErrConcurrencyConflict and nothing in that transaction is committed.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID, cursor string, limit int) (*CursorPage, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error)
	ListStaleProcessingPayments(ctx context.Context, before time.Time, limit int) ([]*domain.Payment, error)

	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)

	// ProcessOutbox claims up to limit unsent events, hands them to publish and marks them
	// sent when publish succeeds. Returns the number of events published.
	ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []models.OutboxRecord) error) (int, error)
}

// Tx is one unit of work.
type Tx interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	InsertOrder(ctx context.Context, order *domain.Order) error
	UpdateOrder(ctx context.Context, order *domain.Order) error

	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error)
	InsertPayment(ctx context.Context, payment *domain.Payment) error
	UpdatePayment(ctx context.Context, payment *domain.Payment) error

	// LockProducts locks the rows without waiting; a held lock yields database.ErrLockTimeout.
	LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error)
	DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) error
	IncrementStock(ctx context.Context, productID uuid.UUID, quantity int) error

	AppendEvents(ctx context.Context, events []domain.Event) error
}

// Summarize projects an order onto the listing read model.
func Summarize(o *domain.Order) models.OrderSummary {
	return models.OrderSummary{
		ID:            o.ID(),
		UserID:        o.UserID(),
		Status:        string(o.Status()),
		PaymentStatus: string(o.PaymentStatus()),
		Total:         o.Total().Amount(),
		Currency:      o.Total().Currency(),
		CreatedAt:     o.Audit().CreatedAt,
		UpdatedAt:     o.Audit().UpdatedAt,
		Version:       o.Version(),
	}
}
