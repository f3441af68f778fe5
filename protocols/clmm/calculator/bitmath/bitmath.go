package bitmath

import (
	"errors"
	"math/bits"

	"lukechampine.com/uint128"
)

var (
	// ErrInputIsZero is returned when a function requires a non-zero input but receives zero.
	ErrInputIsZero = errors.New("input must be greater than zero")
)

// MostSignificantBit returns the index of the highest set bit of a 128-bit word,
// where the least significant bit is at index 0.
//
// The result satisfies x >= 2**msb(x) and x < 2**(msb(x)+1).
func MostSignificantBit(x uint128.Uint128) (uint8, error) {
	if x.IsZero() {
		return 0, ErrInputIsZero
	}
	if x.Hi != 0 {
		return uint8(127 - bits.LeadingZeros64(x.Hi)), nil
	}
	return uint8(63 - bits.LeadingZeros64(x.Lo)), nil
}

// LeastSignificantBit returns the index of the lowest set bit of a 128-bit word.
//
// The result satisfies (x & 2**lsb(x)) != 0.
func LeastSignificantBit(x uint128.Uint128) (uint8, error) {
	if x.IsZero() {
		return 0, ErrInputIsZero
	}
	if x.Lo != 0 {
		return uint8(bits.TrailingZeros64(x.Lo)), nil
	}
	return uint8(64 + bits.TrailingZeros64(x.Hi)), nil
}
