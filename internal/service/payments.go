package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/gateway"
	"github.com/safar/go-order-lifecycle/internal/store"
)

const (
	actorReconciler = "system:reconciler"
	actorGateway    = "system:gateway"
)

type SubmitPaymentInput struct {
	OrderID         uuid.UUID
	MethodType      domain.PaymentMethodType
	PaymentMethodID string
	Metadata        map[string]string
}

// Outcome is a payment result reported by the provider, either in a charge response, a
// webhook or a status check.
type Outcome struct {
	PaymentID     uuid.UUID
	Status        domain.PaymentStatus
	TransactionID string
	Message       string
}

// SubmitPayment opens a payment attempt for the order's total, charges it through the gateway
// outside of any transaction, and applies the answer. When the gateway times out the payment
// is returned still PROCESSING; the reconciliation worker settles it later.
func (s *Service) SubmitPayment(ctx context.Context, in SubmitPaymentInput) (*domain.Payment, error) {
	var payment *domain.Payment
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus() == domain.PaymentStatusProcessing {
			return domain.ErrInvalidStatus.Withf("order %s already has a payment in flight", order.ID())
		}
		order.SetActor(ActorFrom(ctx))

		p, err := domain.NewPaymentForOrder(order, in.MethodType, s.provider, in.Metadata)
		if err != nil {
			return err
		}
		p.SetActor(ActorFrom(ctx))
		if in.PaymentMethodID != "" {
			p.SetPaymentMethod(in.PaymentMethodID)
		}
		if err := p.MarkProcessing(p.ID().String()); err != nil {
			return err
		}
		if err := domain.ReconcilePayment(order, p); err != nil {
			return err
		}

		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, p.Events()); err != nil {
			return err
		}
		if err := saveOrder(ctx, tx, order); err != nil {
			return err
		}
		payment = p
		return nil
	})
	s.observe("submit_payment", err)
	if err != nil {
		return nil, err
	}
	payment.PullEvents()

	res, err := s.gateway.Charge(ctx, payment.ID(), payment.Amount())
	if err != nil {
		s.logger.Warn("gateway charge outcome unknown, leaving payment in flight",
			"payment_id", payment.ID(), "order_id", payment.OrderID(), "error", err)
		return payment, nil
	}

	outcome, ok := outcomeFromResult(payment.ID(), res)
	if !ok {
		return payment, nil
	}
	return s.settle(ctx, "charge_result", outcome, ActorFrom(ctx))
}

// HandlePaymentCallback applies a provider notification. The reported terminal status is only a
// hint: the outcome that gets applied is the one the gateway confirms. Redelivery of an outcome
// that is already recorded changes nothing.
func (s *Service) HandlePaymentCallback(ctx context.Context, hint Outcome) (*domain.Payment, error) {
	switch hint.Status {
	case domain.PaymentStatusSucceeded, domain.PaymentStatusFailed, domain.PaymentStatusProcessing:
	default:
		return nil, domain.ErrInvalidPaymentTransition.Withf("unsupported callback status %q", hint.Status)
	}
	if _, err := s.store.GetPayment(ctx, hint.PaymentID); err != nil {
		return nil, err
	}

	outcome := hint
	if hint.Status != domain.PaymentStatusProcessing {
		var err error
		if outcome, err = s.confirmOutcome(ctx, hint); err != nil {
			s.observe("payment_callback", err)
			return nil, err
		}
	}
	return s.settle(ctx, "payment_callback", outcome, actorGateway)
}

// confirmOutcome replaces a callback's claimed status with the gateway's record of the charge.
func (s *Service) confirmOutcome(ctx context.Context, hint Outcome) (Outcome, error) {
	res, err := s.gateway.CheckStatus(ctx, hint.PaymentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("confirm payment status: %w", err)
	}

	confirmed, ok := outcomeFromResult(hint.PaymentID, res)
	if !ok {
		if hint.Status == domain.PaymentStatusFailed {
			return hint, nil
		}
		s.logger.Warn("payment callback reports a capture the provider does not know",
			"payment_id", hint.PaymentID, "claimed_status", hint.Status)
		return Outcome{}, domain.ErrPaymentUnconfirmed.Withf("provider has no capture for payment %s", hint.PaymentID)
	}
	if confirmed.Status != hint.Status {
		s.logger.Warn("payment callback contradicts provider",
			"payment_id", hint.PaymentID, "claimed_status", hint.Status, "provider_status", confirmed.Status)
	}
	if confirmed.Message == "" {
		confirmed.Message = hint.Message
	}
	return confirmed, nil
}

// ReconcilePayment asks the gateway for the truth about an in-flight payment. A charge the
// provider has no record of is failed so that the order can be paid again.
func (s *Service) ReconcilePayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	res, err := s.gateway.CheckStatus(ctx, paymentID)
	if err != nil {
		s.metrics.Reconciliations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("check payment status: %w", err)
	}

	outcome, ok := outcomeFromResult(paymentID, res)
	if !ok {
		outcome = Outcome{PaymentID: paymentID, Status: domain.PaymentStatusFailed, Message: "no charge recorded by provider"}
	}

	payment, err := s.settle(ctx, "reconcile_payment", outcome, actorReconciler)
	if err != nil {
		s.metrics.Reconciliations.WithLabelValues("error").Inc()
		return nil, err
	}
	s.metrics.Reconciliations.WithLabelValues(string(payment.Status())).Inc()
	return payment, nil
}

func outcomeFromResult(paymentID uuid.UUID, res gateway.Result) (Outcome, bool) {
	switch res.Status {
	case gateway.StatusSucceeded:
		return Outcome{PaymentID: paymentID, Status: domain.PaymentStatusSucceeded, TransactionID: res.TransactionID}, true
	case gateway.StatusDeclined:
		return Outcome{PaymentID: paymentID, Status: domain.PaymentStatusFailed, Message: res.Message}, true
	}
	return Outcome{}, false
}

// settle moves the payment to the reported status and reconciles its order, saving both in one
// transaction.
func (s *Service) settle(ctx context.Context, command string, outcome Outcome, actor string) (*domain.Payment, error) {
	var payment *domain.Payment
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPayment(ctx, outcome.PaymentID)
		if err != nil {
			return err
		}
		order, err := tx.GetOrder(ctx, p.OrderID())
		if err != nil {
			return err
		}
		p.SetActor(actor)
		order.SetActor(actor)

		if err := s.applyOutcome(p, outcome); err != nil {
			return err
		}

		if err := domain.ReconcilePayment(order, p); err != nil {
			if !errors.Is(err, domain.ErrInvalidStatus) && !errors.Is(err, domain.ErrPaymentAmountMismatch) {
				return err
			}
			// The order was closed or repriced while the attempt was in flight. The payment still
			// records what the provider reported and the order is left as it is.
			if p.Status() == domain.PaymentStatusSucceeded {
				s.logger.Error("captured payment not applied to its order needs a manual refund",
					"payment_id", p.ID(), "order_id", order.ID(), "order_status", order.Status(), "error", err)
			} else {
				s.logger.Warn("payment outcome not applied to closed order",
					"payment_id", p.ID(), "order_id", order.ID(), "error", err)
			}
			order = nil
		} else if p.Status() == domain.PaymentStatusSucceeded && order.IsPaid() && !changed(order.Events()) && changed(p.Events()) {
			s.logger.Warn("duplicate capture for an already paid order",
				"payment_id", p.ID(), "order_id", order.ID())
		}

		if err := savePayment(ctx, tx, p); err != nil {
			return err
		}
		if order != nil {
			if err := saveOrder(ctx, tx, order); err != nil {
				return err
			}
		}
		payment = p
		return nil
	})
	s.observe(command, err)
	if err != nil {
		return nil, err
	}

	payment.PullEvents()
	s.logger.Info("payment settled",
		"command", command,
		"payment_id", payment.ID(),
		"order_id", payment.OrderID(),
		"status", payment.Status())
	return payment, nil
}

func (s *Service) applyOutcome(p *domain.Payment, outcome Outcome) error {
	if p.Status() == outcome.Status {
		return nil
	}

	switch outcome.Status {
	case domain.PaymentStatusSucceeded:
		// The provider is the source of truth: a capture reported after the attempt was
		// written off reopens it.
		if p.Status() == domain.PaymentStatusFailed {
			s.logger.Warn("late capture for a failed payment", "payment_id", p.ID())
			if err := p.MarkProcessing(""); err != nil {
				return err
			}
		}
		return p.MarkSucceeded(outcome.TransactionID)
	case domain.PaymentStatusFailed:
		return p.MarkFailed(outcome.Message)
	case domain.PaymentStatusProcessing:
		return p.MarkProcessing("")
	}
	return domain.ErrInvalidPaymentTransition.Withf("unsupported outcome %q", outcome.Status)
}

func (s *Service) ListPayments(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.ListPaymentsByOrder(ctx, orderID)
}

func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.store.GetPayment(ctx, id)
}
