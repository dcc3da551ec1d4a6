package domain

import "fmt"

// ErrorType classifies a domain failure so callers can map it to a transport status.
type ErrorType int

const (
	ErrorTypeFailure ErrorType = iota
	ErrorTypeValidation
	ErrorTypeNotFound
	ErrorTypeConflict
	ErrorTypeUnauthorized
	ErrorTypeForbidden
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeConflict:
		return "conflict"
	case ErrorTypeUnauthorized:
		return "unauthorized"
	case ErrorTypeForbidden:
		return "forbidden"
	default:
		return "failure"
	}
}

// Error is the structured failure returned by every domain operation.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Code    string
	Message string
	Type    ErrorType
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Withf returns a copy of e carrying a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), Type: e.Type}
}

func validation(code, message string) *Error {
	return &Error{Code: code, Message: message, Type: ErrorTypeValidation}
}

var (
	ErrNegativeAmount   = validation("Money.NegativeAmount", "amount cannot be negative")
	ErrInvalidCurrency  = validation("Money.InvalidCurrency", "currency is required")
	ErrCurrencyMismatch = validation("Money.CurrencyMismatch", "currencies do not match")

	ErrOrderRequired           = validation("OrderItem.OrderRequired", "order is required")
	ErrProductIDRequired       = validation("OrderItem.ProductIdRequired", "product id is required")
	ErrInvalidQuantity         = validation("OrderItem.InvalidQuantity", "quantity must be greater than zero")
	ErrProductSnapshotRequired = validation("OrderItem.ProductSnapshotRequired", "product snapshot is required")
	ErrItemNotFound            = &Error{Code: "OrderItem.NotFound", Message: "order item not found", Type: ErrorTypeNotFound}

	ErrUserRequired    = validation("Order.UserRequired", "user is required")
	ErrAddressRequired = validation("Order.AddressRequired", "billing and shipping addresses are required")
	ErrInvalidStatus   = validation("Order.InvalidStatus", "operation is not allowed in the current order status")
	ErrPaymentRequired = validation("Order.PaymentRequired", "order has not been paid")
	ErrInvalidRefund   = validation("Order.InvalidRefund", "refund amount must be greater than zero")

	ErrInvalidPaymentAmount     = validation("Payment.InvalidAmount", "payment amount must be greater than zero")
	ErrProviderRequired         = validation("Payment.ProviderRequired", "payment provider is required")
	ErrInvalidPaymentMethod     = validation("Payment.InvalidMethod", "payment method type is not supported")
	ErrInvalidPaymentTransition = validation("Payment.InvalidStatus", "payment status transition is not allowed")
	ErrPaymentOrderMismatch     = validation("Payment.OrderMismatch", "payment does not belong to the order")
	ErrPaymentAmountMismatch    = validation("Payment.AmountMismatch", "payment amount does not match the order total")
	ErrPaymentUnconfirmed       = &Error{Code: "Payment.Unconfirmed", Message: "payment outcome is not confirmed by the provider", Type: ErrorTypeConflict}

	ErrInvalidCursor = validation("Request.InvalidCursor", "cursor is malformed")
)
