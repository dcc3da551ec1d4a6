package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/domain"
)

type StalePayments interface {
	ListStaleProcessingPayments(ctx context.Context, before time.Time, limit int) ([]*domain.Payment, error)
}

type PaymentReconciler interface {
	ReconcilePayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
}

// ReconciliationWorker settles payments that have been PROCESSING for longer than staleAfter
// by asking the gateway what actually happened.
type ReconciliationWorker struct {
	payments   StalePayments
	reconciler PaymentReconciler
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
}

func NewReconciliationWorker(
	payments StalePayments,
	reconciler PaymentReconciler,
	interval, staleAfter time.Duration,
	batchSize int,
	logger *slog.Logger,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		payments:   payments,
		reconciler: reconciler,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		logger:     logger.With("worker", "reconciliation"),
	}
}

// Run blocks until ctx is cancelled.
func (w *ReconciliationWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("reconciliation worker started", "interval", w.interval, "stale_after", w.staleAfter)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconciliation worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("reconciliation pass failed", "error", err)
			}
		}
	}
}

// RunOnce processes one batch of stuck payments and returns how many were settled. A payment
// that fails to settle is left for the next pass.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) (int, error) {
	stuck, err := w.payments.ListStaleProcessingPayments(ctx, time.Now().UTC().Add(-w.staleAfter), w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	w.logger.Info("found stuck payments", "count", len(stuck))

	settled := 0
	for _, p := range stuck {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		res, err := w.reconciler.ReconcilePayment(ctx, p.ID())
		if err != nil {
			w.logger.Warn("payment not reconciled", "payment_id", p.ID(), "order_id", p.OrderID(), "error", err)
			continue
		}
		settled++
		w.logger.Info("payment reconciled", "payment_id", res.ID(), "order_id", res.OrderID(), "status", res.Status())
	}
	return settled, nil
}
