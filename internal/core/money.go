// Package core provides the domain types shared by the ledger, the spend cache,
// the alert engine and the report snapshotter.
//
// Amounts are kept as integer cents so that repeated summation never suffers
// binary rounding error; shopspring/decimal handles the textual boundary.
package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an exact amount expressed in cents.
type Money struct {
	Cents int64
}

// MaxAmountCents bounds a single parsed amount (100 billion) so that sums of
// many amounts stay far from int64 overflow.
const MaxAmountCents = 10_000_000_000_000

var (
	maxCents = decimal.NewFromInt(MaxAmountCents)
	minCents = decimal.NewFromInt(-MaxAmountCents)
)

// ParseMoney parses a decimal string such as "12.34", "12,34" or "100".
//
// More than two fractional digits are rejected instead of being rounded, so a
// stored amount always equals what the client sent.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrMissingAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal converts d to cents, failing if precision would be lost.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Truncate(2)) {
		return Money{}, fmt.Errorf("%w: at most two decimal places allowed", ErrInvalidAmount)
	}
	cents := d.Shift(2)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return Money{}, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Decimal returns the amount as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount without trailing zeros ("110", "12.5", "0.01").
func (m Money) String() string {
	return m.Decimal().String()
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }

func (m Money) IsPositive() bool { return m.Cents > 0 }
func (m Money) IsNegative() bool { return m.Cents < 0 }

// GreaterThan reports whether m is strictly greater than o.
func (m Money) GreaterThan(o Money) bool { return m.Cents > o.Cents }

// MaxZero clamps negative amounts to zero.
func (m Money) MaxZero() Money {
	if m.Cents < 0 {
		return Money{}
	}
	return m
}

// Percentage returns 100*m/of rounded to two decimals, or 0 when of is zero.
func (m Money) Percentage(of Money) float64 {
	if of.Cents == 0 {
		return 0
	}
	pct := decimal.NewFromInt(m.Cents).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(of.Cents), 2)
	f, _ := pct.Float64()
	return f
}

// MarshalJSON encodes the amount as a decimal string to keep it exact on the wire.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both JSON numbers and decimal strings.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
