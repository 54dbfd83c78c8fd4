// Package core holds the ledger domain model: money, account types and
// transaction records, plus the validation rules shared by every layer.
package core

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point amount stored as integer cents. All ledger arithmetic
// happens on cents; decimal conversion exists only at the input/output edges.
type Money struct {
	Cents int64
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{Cents: m.Cents + other.Cents}
}

// Sub returns m - other. The result may be negative; callers guard against
// overdraft before committing.
func (m Money) Sub(other Money) Money {
	return Money{Cents: m.Cents - other.Cents}
}

// ParseAmount converts a user-supplied decimal string into Money with half-up
// rounding on the third decimal place. Comma decimal separators are accepted.
// Zero, negative, malformed and overflowing values are rejected.
func ParseAmount(s string) (Money, error) {
	d, err := decimal.NewFromString(normalizeAmount(s))
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	if d.Sign() <= 0 {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Shift(2).Round(0)
	if cents.Cmp(decimal.NewFromInt(math.MaxInt64)) > 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// String renders the amount with two decimal places, e.g. "12.34".
func (m Money) String() string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}

// MarshalJSON renders the amount as a decimal string so clients never see raw
// cents or binary floating point.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON number or a decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func normalizeAmount(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t':
			// tolerate stray whitespace
		case ',':
			out = append(out, '.')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
