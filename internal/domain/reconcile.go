package domain

// ReconcilePayment brings the order's payment dimension in line with a payment attempt.
// The caller must persist both aggregates in the same transaction.
//
// Applying the same payment outcome twice is a no-op, so webhook redeliveries and the
// reconciliation worker can both call it safely.
func ReconcilePayment(order *Order, payment *Payment) error {
	if order == nil || payment == nil {
		return ErrOrderRequired.Withf("reconciliation requires an order and a payment")
	}
	if payment.OrderID() != order.ID() {
		return ErrPaymentOrderMismatch.Withf("payment %s belongs to order %s, not %s", payment.ID(), payment.OrderID(), order.ID())
	}

	switch payment.Status() {
	case PaymentStatusSucceeded:
		if order.IsPaid() {
			return nil
		}
		if !payment.Amount().Equal(order.Total()) {
			return ErrPaymentAmountMismatch.Withf("payment of %s does not cover order total %s", payment.Amount(), order.Total())
		}
		return order.MarkAsPaid()

	case PaymentStatusProcessing:
		if order.PaymentStatus() == PaymentStatusProcessing || order.IsPaid() {
			return nil
		}
		return order.MarkPaymentProcessing()

	case PaymentStatusFailed:
		// A later attempt may already have paid the order.
		if order.IsPaid() || order.PaymentStatus() == PaymentStatusFailed {
			return nil
		}
		return order.MarkPaymentFailed(payment.ErrorMessage())
	}
	return nil
}
