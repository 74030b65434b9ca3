// Package fixedpoint implements the unsigned 256-bit fixed-point helpers used
// across the lending stack. Mantissas carry 18 decimals, matching the
// convention of the money-market protocols the engine integrates with.
package fixedpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the precision of every mantissa (rates, factors, prices).
const Decimals = 18

// MaxDecimals bounds the precision accepted by Rescale and Pow10. 10^77 is the
// largest power of ten representable in 256 bits.
const MaxDecimals = 77

var (
	// ErrOverflow is returned when an intermediate or final value exceeds 256
	// bits.
	ErrOverflow = errors.New("fixedpoint: overflow")
	// ErrDivideByZero is returned when a divisor or mantissa is zero.
	ErrDivideByZero = errors.New("fixedpoint: divide by zero")
	// ErrInvalidDecimals is returned for precisions above MaxDecimals.
	ErrInvalidDecimals = errors.New("fixedpoint: invalid decimals")
	// ErrInvalidNumber is returned when a decimal string cannot be parsed.
	ErrInvalidNumber = errors.New("fixedpoint: invalid number")
)

var (
	// Scale is 1e18, the unit mantissa.
	Scale = mustPow10(Decimals)

	pow10Table = buildPow10Table()
)

func buildPow10Table() [MaxDecimals + 1]uint256.Int {
	var table [MaxDecimals + 1]uint256.Int
	ten := uint256.NewInt(10)
	table[0].SetOne()
	for i := 1; i <= MaxDecimals; i++ {
		table[i].Mul(&table[i-1], ten)
	}
	return table
}

func mustPow10(n uint8) *uint256.Int {
	v, err := Pow10(n)
	if err != nil {
		panic(err)
	}
	return v
}

// Pow10 returns 10^n.
func Pow10(n uint8) (*uint256.Int, error) {
	if n > MaxDecimals {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDecimals, n)
	}
	return new(uint256.Int).Set(&pow10Table[n]), nil
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// One returns the unit mantissa 1e18.
func One() *uint256.Int { return new(uint256.Int).Set(Scale) }

// FromUint64 returns x as a 256-bit integer.
func FromUint64(x uint64) *uint256.Int { return uint256.NewInt(x) }

// Units returns whole units of an asset with the given decimals, e.g.
// Units(4000, 18) == 4000e18.
func Units(whole uint64, decimals uint8) (*uint256.Int, error) {
	p, err := Pow10(decimals)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(whole), p)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// MustUnits is Units for constants and tests.
func MustUnits(whole uint64, decimals uint8) *uint256.Int {
	v, err := Units(whole, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// Rescale converts x from one decimal precision to another. Scaling down
// floors; scaling up fails with ErrOverflow instead of wrapping.
func Rescale(x *uint256.Int, from, to uint8) (*uint256.Int, error) {
	if x == nil {
		return Zero(), nil
	}
	if from > MaxDecimals || to > MaxDecimals {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidDecimals, from, to)
	}
	switch {
	case from == to:
		return new(uint256.Int).Set(x), nil
	case from > to:
		return new(uint256.Int).Div(x, &pow10Table[from-to]), nil
	default:
		out, overflow := new(uint256.Int).MulOverflow(x, &pow10Table[to-from])
		if overflow {
			return nil, ErrOverflow
		}
		return out, nil
	}
}

// MulDiv returns floor(x*y/d) using a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d == nil || d.IsZero() {
		return nil, ErrDivideByZero
	}
	if x == nil || y == nil || x.IsZero() || y.IsZero() {
		return Zero(), nil
	}
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// MulExp multiplies x by an 18-decimal mantissa and truncates.
func MulExp(x, mantissa *uint256.Int) (*uint256.Int, error) {
	return MulDiv(x, mantissa, Scale)
}

// DivExp divides x by an 18-decimal mantissa and truncates.
func DivExp(x, mantissa *uint256.Int) (*uint256.Int, error) {
	if mantissa == nil || mantissa.IsZero() {
		return nil, ErrDivideByZero
	}
	return MulDiv(x, Scale, mantissa)
}

// ToUSD values an amount of an asset with the given decimals at an 18-decimal
// per-unit price. The result carries 18 decimals.
func ToUSD(amount *uint256.Int, decimals uint8, price *uint256.Int) (*uint256.Int, error) {
	normalized, err := Rescale(amount, decimals, Decimals)
	if err != nil {
		return nil, err
	}
	return MulExp(normalized, price)
}

// FromUSD converts an 18-decimal USD value into raw units of an asset priced
// at price, flooring at the asset's precision.
func FromUSD(value *uint256.Int, decimals uint8, price *uint256.Int) (*uint256.Int, error) {
	if price == nil || price.IsZero() {
		return nil, ErrDivideByZero
	}
	unit, err := Pow10(decimals)
	if err != nil {
		return nil, err
	}
	return MulDiv(value, unit, price)
}

// CollateralValue returns the risk-adjusted USD value of market shares:
// ToUSD(shares*rate/1e18) scaled by the collateral factor, truncating at each
// step.
func CollateralValue(shares, rate *uint256.Int, decimals uint8, price, factor *uint256.Int) (*uint256.Int, error) {
	underlying, err := MulExp(shares, rate)
	if err != nil {
		return nil, err
	}
	usd, err := ToUSD(underlying, decimals, price)
	if err != nil {
		return nil, err
	}
	return MulExp(usd, factor)
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// SaturatingSub returns max(0, a-b).
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return Zero()
	}
	return new(uint256.Int).Sub(a, b)
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// ParseDecimal parses a human decimal such as "4000.25" into raw units with
// the given precision. Digits beyond the precision are rejected.
func ParseDecimal(s string, decimals uint8) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidNumber)
	}
	whole, frac, hasDot := strings.Cut(trimmed, ".")
	if hasDot && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidNumber, s, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))
	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return Zero(), nil
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
		}
	}
	out, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return out, nil
}

// ParseRaw parses a base-10 integer string of raw units.
func ParseRaw(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidNumber)
	}
	out, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return out, nil
}

// Format renders raw units as a decimal string with trailing zeros trimmed.
func Format(x *uint256.Int, decimals uint8) string {
	if x == nil {
		return "0"
	}
	digits := x.Dec()
	if decimals == 0 {
		return digits
	}
	if len(digits) <= int(decimals) {
		digits = strings.Repeat("0", int(decimals)-len(digits)+1) + digits
	}
	cut := len(digits) - int(decimals)
	whole, frac := digits[:cut], strings.TrimRight(digits[cut:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
