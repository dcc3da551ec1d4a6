// Package gateway is the boundary to the external payment provider. Every call is keyed by the
// payment id, which the provider treats as an idempotency key: charging the same key twice
// never moves money twice.
package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/domain"
)

// ErrTimeout means the provider did not answer in time. The charge may or may not have
// happened; callers must leave the payment in flight and ask again later.
var ErrTimeout = errors.New("payment gateway timeout")

// Status is the provider's view of a charge.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusDeclined  Status = "DECLINED"
	StatusUnknown   Status = "UNKNOWN"
)

type Result struct {
	Status        Status
	TransactionID string
	Message       string
}

type Gateway interface {
	Charge(ctx context.Context, key uuid.UUID, amount domain.Money) (Result, error)
	CheckStatus(ctx context.Context, key uuid.UUID) (Result, error)
}
