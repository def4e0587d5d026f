// Package iou provides exact decimal amounts for issued-currency tokens.
//
// Token values on the ledger are decimal strings with up to 15 significant
// digits. Amounts are kept as arbitrary-precision decimals so balance
// comparisons and shortfall computations never round.
package iou

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

var (
	ErrInvalidAmount = errors.New("iou: invalid decimal amount")
	ErrNotPositive   = errors.New("iou: amount must be greater than zero")
)

// arith has enough headroom for 15-digit token values plus drop scaling.
var arith = apd.BaseContext.WithPrecision(34)

// Amount is an immutable decimal value. The zero value is 0.
type Amount struct {
	d *apd.Decimal
}

// Zero returns the zero amount.
func Zero() Amount { return Amount{} }

// Parse accepts any finite decimal string, including negative values
// (an issuer sees its obligations as negative line balances).
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Form != apd.Finite {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{d: d}, nil
}

// ParsePositive is Parse restricted to values greater than zero.
func ParsePositive(s string) (Amount, error) {
	a, err := Parse(s)
	if err != nil {
		return Amount{}, err
	}
	if a.Sign() <= 0 {
		return Amount{}, fmt.Errorf("%w: %q", ErrNotPositive, s)
	}
	return a, nil
}

// MustParse panics on invalid input. Intended for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromDrops converts an integer drop count to XRP (1 XRP = 1,000,000 drops).
func FromDrops(drops string) (Amount, error) {
	a, err := Parse(drops)
	if err != nil {
		return Amount{}, err
	}
	out := new(apd.Decimal)
	if _, err := arith.Quo(out, a.dec(), apd.New(1_000_000, 0)); err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return Amount{d: out}, nil
}

func (a Amount) dec() *apd.Decimal {
	if a.d == nil {
		return apd.New(0, 0)
	}
	return a.d
}

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int { return a.dec().Sign() }

// IsZero reports whether the amount equals zero.
func (a Amount) IsZero() bool { return a.Sign() == 0 }

// Cmp compares a and b, returning -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.dec().Cmp(b.dec()) }

// LessThan reports a < b.
func (a Amount) LessThan(b Amount) bool { return a.Cmp(b) < 0 }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	out := new(apd.Decimal)
	_, _ = arith.Add(out, a.dec(), b.dec())
	return Amount{d: out}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	out := new(apd.Decimal)
	_, _ = arith.Sub(out, a.dec(), b.dec())
	return Amount{d: out}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	out := new(apd.Decimal)
	out.Neg(a.dec())
	return Amount{d: out}
}

// String renders the amount in plain notation without trailing zeros,
// which is the form the ledger accepts for token values.
func (a Amount) String() string {
	if a.IsZero() {
		return "0"
	}
	out := new(apd.Decimal)
	out.Reduce(a.dec())
	return out.Text('f')
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
