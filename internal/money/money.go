// Package money provides scale-pinned decimal arithmetic for on-chain
// monetary amounts. Bitcoin amounts carry 8 fractional digits (satoshis),
// Ethereum amounts carry 18 (wei). Comparisons never touch float64.
package money

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits a currency's decimal
// representation is pinned to.
type Scale int32

const (
	ScaleBTC Scale = 8
	ScaleETH Scale = 18
)

// Amount is a decimal value at a fixed scale. Amounts parsed or converted
// from on-chain values are non-negative; Sub can return a negative one.
type Amount struct {
	value decimal.Decimal
	scale Scale
}

// Zero returns the zero amount at the given scale.
func Zero(scale Scale) Amount {
	return Amount{value: decimal.Zero, scale: scale}
}

// FromSatoshis converts an integer satoshi count to a BTC-scaled Amount.
func FromSatoshis(sat int64) Amount {
	return Amount{
		value: decimal.New(sat, -int32(ScaleBTC)),
		scale: ScaleBTC,
	}
}

// FromWei converts an integer wei count to an ETH-scaled Amount.
func FromWei(wei *big.Int) Amount {
	return Amount{
		value: decimal.NewFromBigInt(wei, -int32(ScaleETH)),
		scale: ScaleETH,
	}
}

// FromDecimalString parses a decimal string at the given scale, truncating
// to the scale's precision (no rounding; digits beyond the declared scale
// are dropped since fractional satoshis/wei cannot exist on-chain).
func FromDecimalString(s string, scale Scale) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Amount{value: d.Truncate(int32(scale)), scale: scale}, nil
}

// Satoshis returns the integer satoshi count. Panics if scale is not BTC.
func (a Amount) Satoshis() int64 {
	if a.scale != ScaleBTC {
		panic("money: Satoshis called on non-BTC amount")
	}
	return a.value.Shift(int32(ScaleBTC)).IntPart()
}

// Wei returns the integer wei count. Panics if scale is not ETH.
func (a Amount) Wei() *big.Int {
	if a.scale != ScaleETH {
		panic("money: Wei called on non-ETH amount")
	}
	return a.value.Shift(int32(ScaleETH)).BigInt()
}

// Cmp compares two amounts of the same scale: -1, 0, or 1.
func (a Amount) Cmp(b Amount) int {
	if a.scale != b.scale {
		panic("money: Cmp across differing scales")
	}
	return a.value.Cmp(b.value)
}

// GTE reports whether a >= b.
func (a Amount) GTE(b Amount) bool { return a.Cmp(b) >= 0 }

// LT reports whether a < b.
func (a Amount) LT(b Amount) bool { return a.Cmp(b) < 0 }

// Sub subtracts b from a, returning an amount at the same scale. Negative
// results are allowed so callers can detect insufficient-for-fee cases.
func (a Amount) Sub(b Amount) Amount {
	if a.scale != b.scale {
		panic("money: Sub across differing scales")
	}
	return Amount{value: a.value.Sub(b.value), scale: a.scale}
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool { return a.value.IsPositive() }

// String renders the amount with full scale precision.
func (a Amount) String() string {
	return a.value.StringFixed(int32(a.scale))
}

// Scale returns the amount's fixed scale.
func (a Amount) Scale() Scale { return a.scale }
