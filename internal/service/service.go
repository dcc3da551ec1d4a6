// Package service runs order and payment commands. Each command loads the aggregates it needs
// inside one unit of work, applies domain methods, and saves the aggregates together with the
// events they raised. A stale save surfaces as database.ErrConcurrencyConflict and the caller
// decides whether to retry.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/gateway"
	"github.com/safar/go-order-lifecycle/internal/store"
	"github.com/safar/go-order-lifecycle/pkg/metrics"
)

type Service struct {
	store    store.Store
	gateway  gateway.Gateway
	provider string
	logger   *slog.Logger
	metrics  *metrics.DomainMetrics
}

func New(st store.Store, gw gateway.Gateway, provider string, logger *slog.Logger, m *metrics.DomainMetrics) *Service {
	return &Service{
		store:    st,
		gateway:  gw,
		provider: provider,
		logger:   logger,
		metrics:  m,
	}
}

type actorKey struct{}

// WithActor attaches the identity recorded in audit fields by commands run with ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// OrderRef addresses an order for a command. A non-zero Version must match the stored version.
type OrderRef struct {
	ID      uuid.UUID
	Version int
}

func (s *Service) observe(command string, err error) {
	result := "ok"
	var derr *domain.Error
	switch {
	case err == nil:
	case errors.Is(err, database.ErrConcurrencyConflict):
		result = "conflict"
		s.metrics.Conflicts.Inc()
	case errors.As(err, &derr),
		errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrLockTimeout),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrPaymentNotFound),
		errors.Is(err, database.ErrProductNotFound):
		result = "rejected"
	default:
		result = "error"
	}
	s.metrics.Commands.WithLabelValues(command, result).Inc()
}

// changed reports whether an aggregate recorded events since it was loaded. Every domain
// mutation raises at least one event.
func changed(events []domain.Event) bool {
	return len(events) > 0
}

// saveOrder persists the order and its pending events.
func saveOrder(ctx context.Context, tx store.Tx, order *domain.Order) error {
	if !changed(order.Events()) {
		return nil
	}
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return err
	}
	return tx.AppendEvents(ctx, order.Events())
}

func savePayment(ctx context.Context, tx store.Tx, payment *domain.Payment) error {
	if !changed(payment.Events()) {
		return nil
	}
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return err
	}
	return tx.AppendEvents(ctx, payment.Events())
}

func checkVersion(order *domain.Order, expected int) error {
	if expected != 0 && order.Version() != expected {
		return database.ErrConcurrencyConflict
	}
	return nil
}
