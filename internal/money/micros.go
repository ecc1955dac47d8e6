// Package money handles the 6-decimal fixed-point amounts used by the vault
// contract. Everything inside the service is integer micro-units; conversion
// to and from human-readable decimals happens only at the boundary.
package money

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Micros is an amount in millionths of a dollar.
type Micros int64

const (
	// Dollar is one whole unit expressed in micros.
	Dollar Micros = 1_000_000
	// Cent is one hundredth of a unit.
	Cent Micros = 10_000
)

var microsPerUnit = decimal.NewFromInt(int64(Dollar))

// Parse converts a human decimal string ("12.50") into micros.
// Amounts with more than 6 fractional digits are rejected rather than
// silently truncated.
func Parse(s string) (Micros, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	scaled := d.Mul(microsPerUnit)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %q exceeds 6 decimal places", s)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return Micros(scaled.IntPart()), nil
}

// String renders the amount as a decimal string without trailing zeros.
func (m Micros) String() string {
	return decimal.NewFromInt(int64(m)).Div(microsPerUnit).String()
}

// BigInt returns the amount as a big.Int for ABI encoding.
func (m Micros) BigInt() *big.Int {
	return big.NewInt(int64(m))
}

// FromBigInt converts a uint256 amount returned by the contract. Values that
// do not fit an int64 are an error; the vault caps balances well below that.
func FromBigInt(v *big.Int) (Micros, error) {
	if v == nil {
		return 0, fmt.Errorf("nil amount")
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", v.String())
	}
	return Micros(v.Int64()), nil
}

// Abs returns the absolute value.
func (m Micros) Abs() Micros {
	if m < 0 {
		return -m
	}
	return m
}
