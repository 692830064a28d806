// Package fixedpoint implements exact arithmetic over decimal-string
// monetary amounts. Every amount in the system travels as a base-10 decimal
// string and is converted here to an 18-decimal-place integer scale for
// arithmetic, then rendered back without trailing zeros.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional decimal places kept during arithmetic.
const Scale = 18

const basisPointDenominator = 10_000

var (
	// ErrNegativeAmount indicates an amount string parsed to a value below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrNegativeResult indicates a subtraction that would underflow zero.
	ErrNegativeResult = errors.New("result would be negative")
)

// ToScaled parses a decimal string into an integer count of 1e-18 units.
// Fractional digits beyond the scale are truncated, not rounded. An empty
// string scales to zero.
func ToScaled(amount string) (*big.Int, error) {
	if amount == "" {
		return big.NewInt(0), nil
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, ErrNegativeAmount
	}
	return d.Truncate(Scale).Shift(Scale).BigInt(), nil
}

// FromScaled renders a count of 1e-18 units back to a minimal decimal
// string. Negative inputs clamp to "0"; balances are never rendered below
// zero.
func FromScaled(units *big.Int) string {
	if units == nil || units.Sign() < 0 {
		return "0"
	}
	return decimal.NewFromBigInt(units, -Scale).String()
}

// Add returns a+b.
func Add(a, b string) (string, error) {
	x, err := ToScaled(a)
	if err != nil {
		return "", err
	}
	y, err := ToScaled(b)
	if err != nil {
		return "", err
	}
	return FromScaled(new(big.Int).Add(x, y)), nil
}

// Sub returns a-b, failing with ErrNegativeResult if b exceeds a.
func Sub(a, b string) (string, error) {
	x, err := ToScaled(a)
	if err != nil {
		return "", err
	}
	y, err := ToScaled(b)
	if err != nil {
		return "", err
	}
	diff := new(big.Int).Sub(x, y)
	if diff.Sign() < 0 {
		return "", ErrNegativeResult
	}
	return FromScaled(diff), nil
}

// SubClamped returns a-b floored at zero, reporting whether the result was
// clamped. A clamp signals an accounting discrepancy upstream and is worth
// alerting on.
func SubClamped(a, b string) (string, bool, error) {
	x, err := ToScaled(a)
	if err != nil {
		return "", false, err
	}
	y, err := ToScaled(b)
	if err != nil {
		return "", false, err
	}
	diff := new(big.Int).Sub(x, y)
	if diff.Sign() < 0 {
		return "0", true, nil
	}
	return FromScaled(diff), false, nil
}

// Cmp compares two amounts, returning -1, 0 or 1.
func Cmp(a, b string) (int, error) {
	x, err := ToScaled(a)
	if err != nil {
		return 0, err
	}
	y, err := ToScaled(b)
	if err != nil {
		return 0, err
	}
	return x.Cmp(y), nil
}

// ApplyBasisPoints multiplies an amount by bps/10000 in the scaled domain,
// truncating the remainder so that fee and net always sum exactly to the
// gross amount.
func ApplyBasisPoints(amount string, bps int64) (string, error) {
	if bps < 0 {
		return "", fmt.Errorf("basis points must not be negative, got %d", bps)
	}
	x, err := ToScaled(amount)
	if err != nil {
		return "", err
	}
	product := new(big.Int).Mul(x, big.NewInt(bps))
	return FromScaled(product.Quo(product, big.NewInt(basisPointDenominator))), nil
}

// IsPositive reports whether the amount is strictly greater than zero.
func IsPositive(amount string) (bool, error) {
	x, err := ToScaled(amount)
	if err != nil {
		return false, err
	}
	return x.Sign() > 0, nil
}

// IsZero reports whether the amount equals zero.
func IsZero(amount string) (bool, error) {
	x, err := ToScaled(amount)
	if err != nil {
		return false, err
	}
	return x.Sign() == 0, nil
}
