// Package fullmath implements the widened multiply/divide primitives used by the
// Q64.64 price math. Products are formed over a 512-bit intermediate so a*b/d never
// silently truncates; every narrowing back to 128 or 64 bits is checked.
package fullmath

import (
	"errors"

	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

var (
	// ErrOverflow is the arithmetic overflow class. Narrowing and mul-div failures wrap it.
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")

	one = uint256.NewInt(1)

	// Q64 is 1.0 in Q64.64.
	Q64 = new(uint256.Int).Lsh(uint256.NewInt(1), 64)
)

// MulDivFloor sets z = floor(a*b/d).
func MulDivFloor(z, a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	if _, overflow := z.MulDivOverflow(a, b, d); overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulDivCeil sets z = ceil(a*b/d).
func MulDivCeil(z, a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	// remainder first: z may alias a or b
	var rem uint256.Int
	rem.MulMod(a, b, d)
	if _, overflow := z.MulDivOverflow(a, b, d); overflow {
		return nil, ErrOverflow
	}
	if !rem.IsZero() {
		if _, overflow := z.AddOverflow(z, one); overflow {
			return nil, ErrOverflow
		}
	}
	return z, nil
}

// DivCeil sets z = ceil(a/d).
func DivCeil(z, a, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	var rem uint256.Int
	rem.Mod(a, d)
	z.Div(a, d)
	if !rem.IsZero() {
		z.AddUint64(z, 1)
	}
	return z, nil
}

// FromUint128 widens a 128-bit word into z.
func FromUint128(z *uint256.Int, v uint128.Uint128) *uint256.Int {
	z[0], z[1], z[2], z[3] = v.Lo, v.Hi, 0, 0
	return z
}

// U256 returns a fresh 256-bit copy of v.
func U256(v uint128.Uint128) *uint256.Int {
	return FromUint128(new(uint256.Int), v)
}

// ToUint128 narrows x, failing if any of the upper 128 bits are set.
func ToUint128(x *uint256.Int) (uint128.Uint128, error) {
	if x[2] != 0 || x[3] != 0 {
		return uint128.Zero, ErrOverflow
	}
	return uint128.New(x[0], x[1]), nil
}

// ToUint64 narrows x, failing if it does not fit in 64 bits.
func ToUint64(x *uint256.Int) (uint64, error) {
	if !x.IsUint64() {
		return 0, ErrOverflow
	}
	return x.Uint64(), nil
}

// MulDivFloor128 is MulDivFloor over 128-bit operands with a checked 128-bit result.
func MulDivFloor128(a, b, d uint128.Uint128) (uint128.Uint128, error) {
	z, err := MulDivFloor(new(uint256.Int), U256(a), U256(b), U256(d))
	if err != nil {
		return uint128.Zero, err
	}
	return ToUint128(z)
}

// MulDivCeil128 is MulDivCeil over 128-bit operands with a checked 128-bit result.
func MulDivCeil128(a, b, d uint128.Uint128) (uint128.Uint128, error) {
	z, err := MulDivCeil(new(uint256.Int), U256(a), U256(b), U256(d))
	if err != nil {
		return uint128.Zero, err
	}
	return ToUint128(z)
}

// MulShr64 returns floor(a*b / 2^64) narrowed to 64 bits, the settlement primitive
// for Q64.64 growth deltas multiplied by liquidity.
func MulShr64(a, b uint128.Uint128) (uint64, error) {
	z := new(uint256.Int).Mul(U256(a), U256(b))
	z.Rsh(z, 64)
	return ToUint64(z)
}
