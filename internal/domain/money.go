package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an immutable non-negative amount in a single currency.
type Money struct {
	amount   decimal.Decimal
	currency string
}

func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Money{}, ErrInvalidCurrency
	}
	if amount.IsNegative() {
		return Money{}, ErrNegativeAmount.Withf("amount %s cannot be negative", amount)
	}
	return Money{amount: amount, currency: currency}, nil
}

// MustMoney is NewMoney for values known to be valid, such as constants in tests.
func MustMoney(amount decimal.Decimal, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func Zero(currency string) Money {
	return MustMoney(decimal.Zero, currency)
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }

func (m Money) IsZero() bool     { return m.amount.IsZero() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// Valid reports whether m was built through NewMoney rather than left as a zero value.
func (m Money) Valid() bool { return m.currency != "" }

// Add panics on a currency mismatch. Only use it where both operands are known to share
// a currency; user-reachable paths go through AddSafe.
func (m Money) Add(other Money) Money {
	sum, err := m.AddSafe(other)
	if err != nil {
		panic(err)
	}
	return sum
}

func (m Money) AddSafe(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, ErrCurrencyMismatch.Withf("cannot add %s to %s", other.currency, m.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

func (m Money) Subtract(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, ErrCurrencyMismatch.Withf("cannot subtract %s from %s", other.currency, m.currency)
	}
	diff := m.amount.Sub(other.amount)
	if diff.IsNegative() {
		return Money{}, ErrNegativeAmount.Withf("cannot subtract %s from %s", other, m)
	}
	return Money{amount: diff, currency: m.currency}, nil
}

func (m Money) Multiply(factor decimal.Decimal) (Money, error) {
	if factor.IsNegative() {
		return Money{}, ErrNegativeAmount.Withf("cannot multiply %s by %s", m, factor)
	}
	return Money{amount: m.amount.Mul(factor), currency: m.currency}, nil
}

func (m Money) MultiplyInt(n int) (Money, error) {
	return m.Multiply(decimal.NewFromInt(int64(n)))
}

func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// GreaterThan compares amounts; callers must ensure currencies match.
func (m Money) GreaterThan(other Money) bool {
	return m.amount.GreaterThan(other.amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(2), m.currency)
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
