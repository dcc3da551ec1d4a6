package gateway

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/domain"
)

// Mock simulates a card processor. A share of charges succeed, a share time out after the money
// has already moved (the provider knows about them, the caller does not), and the rest are
// declined.
type Mock struct {
	mu          sync.RWMutex
	charges     map[uuid.UUID]Result
	successRate int
	timeoutRate int
	latency     time.Duration
	roll        func() int
}

type MockOption func(*Mock)

// WithRoll replaces the random draw in [0, 100) used to pick an outcome.
func WithRoll(roll func() int) MockOption {
	return func(m *Mock) { m.roll = roll }
}

func NewMock(successRate, timeoutRate int, latency time.Duration, opts ...MockOption) *Mock {
	m := &Mock{
		charges:     make(map[uuid.UUID]Result),
		successRate: successRate,
		timeoutRate: timeoutRate,
		latency:     latency,
		roll:        func() int { return rand.IntN(100) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Gateway = (*Mock)(nil)

func (m *Mock) Charge(ctx context.Context, key uuid.UUID, amount domain.Money) (Result, error) {
	m.mu.RLock()
	if res, ok := m.charges[key]; ok {
		m.mu.RUnlock()
		return res, nil
	}
	m.mu.RUnlock()

	if err := m.wait(ctx); err != nil {
		return Result{}, err
	}

	chance := m.roll()
	switch {
	case chance < m.successRate:
		return m.record(key, Result{Status: StatusSucceeded, TransactionID: transactionID()}), nil
	case chance < m.successRate+m.timeoutRate:
		m.record(key, Result{Status: StatusSucceeded, TransactionID: transactionID()})
		return Result{Status: StatusUnknown}, ErrTimeout
	default:
		return m.record(key, Result{Status: StatusDeclined, Message: "card declined"}), nil
	}
}

func (m *Mock) CheckStatus(ctx context.Context, key uuid.UUID) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if res, ok := m.charges[key]; ok {
		return res, nil
	}
	return Result{Status: StatusUnknown}, nil
}

func (m *Mock) record(key uuid.UUID, res Result) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A concurrent charge with the same key may have landed first.
	if existing, ok := m.charges[key]; ok {
		return existing
	}
	m.charges[key] = res
	return res
}

func (m *Mock) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func transactionID() string {
	return "txn_" + uuid.NewString()
}
