// Package fixed implements scaled integer arithmetic on 64-bit operands.
//
// Prices are rationals scaled by Scale (10^9). Multiplication and division
// run through 128-bit intermediates so that u64 * u64 products never
// truncate before the rescale.
package fixed

import (
	"errors"

	"github.com/holiman/uint256"
)

// Scale is the fixed-point scaling factor applied to prices and fee rates.
const Scale uint64 = 1_000_000_000

var ErrUnderflow = errors.New("arithmetic underflow")

// mulDiv computes floor(x*y/d) and whether a non-zero remainder was
// discarded. d must be non-zero; passing zero is a caller error.
func mulDiv(x, y, d uint64) (uint64, bool) {
	p := new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(y))
	q, rem := new(uint256.Int).DivMod(p, uint256.NewInt(d), new(uint256.Int))
	return q.Uint64(), !rem.IsZero()
}

// UnsafeMul returns floor(x*y/Scale), discarding any remainder.
func UnsafeMul(x, y uint64) uint64 {
	v, _ := mulDiv(x, y, Scale)
	return v
}

// UnsafeMulRound returns floor(x*y/Scale) and reports whether the result
// was rounded down (the product had a remainder mod Scale).
func UnsafeMulRound(x, y uint64) (uint64, bool) {
	return mulDiv(x, y, Scale)
}

// Mul is UnsafeMul but fails with ErrUnderflow when the result is zero.
func Mul(x, y uint64) (uint64, error) {
	v := UnsafeMul(x, y)
	if v == 0 {
		return 0, ErrUnderflow
	}
	return v, nil
}

// MulRound is UnsafeMulRound but fails with ErrUnderflow when the result
// is zero.
func MulRound(x, y uint64) (uint64, bool, error) {
	v, rounded := UnsafeMulRound(x, y)
	if v == 0 {
		return 0, rounded, ErrUnderflow
	}
	return v, rounded, nil
}

// UnsafeDivRound returns floor(x*Scale/y) and reports whether the result
// was rounded down. Division by zero is a caller error.
func UnsafeDivRound(x, y uint64) (uint64, bool) {
	return mulDiv(x, Scale, y)
}

// DivRound is UnsafeDivRound but fails with ErrUnderflow when the result
// is zero.
func DivRound(x, y uint64) (uint64, bool, error) {
	v, rounded := UnsafeDivRound(x, y)
	if v == 0 {
		return 0, rounded, ErrUnderflow
	}
	return v, rounded, nil
}
