package tickmath

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/bitmath"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/fullmath"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

const (
	// MinTick is the lowest tick whose price is representable in Q64.64.
	MinTick int32 = -443636
	// MaxTick is the highest tick whose price is representable in Q64.64.
	MaxTick int32 = 443636

	// bit-scan refinement steps for the fractional log2
	bitPrecision = 16
)

var (
	// MinSqrtPriceX64 is GetSqrtPriceAtTick(MinTick).
	MinSqrtPriceX64 = uint128.From64(4295048016)
	// MaxSqrtPriceX64 is GetSqrtPriceAtTick(MaxTick).
	MaxSqrtPriceX64 = uint128.New(9537527425331189659, 4294886577)

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = fmt.Errorf("%w: sqrt price out of bounds", fullmath.ErrOverflow)

	q64        = new(uint256.Int).Lsh(uint256.NewInt(1), 64)
	maxUint128 = fullmath.U256(uint128.Max)

	// sqrt(1.0001^-(2^i)) in Q64.64, one rung per bit of |tick|.
	ladder = [19]*uint256.Int{
		uint256.NewInt(18445821805675395072), // 2^0
		uint256.NewInt(18444899583751176192), // 2^1
		uint256.NewInt(18443055278223355904), // 2^2
		uint256.NewInt(18439367220385607680), // 2^3
		uint256.NewInt(18431993317065453568), // 2^4
		uint256.NewInt(18417254355718170624), // 2^5
		uint256.NewInt(18387811781193609216), // 2^6
		uint256.NewInt(18329067761203558400), // 2^7
		uint256.NewInt(18212142134806163456), // 2^8
		uint256.NewInt(17980523815641700352), // 2^9
		uint256.NewInt(17526086738831433728), // 2^10
		uint256.NewInt(16651378430235570176), // 2^11
		uint256.NewInt(15030750278694412288), // 2^12
		uint256.NewInt(12247334978884435968), // 2^13
		uint256.NewInt(8131365268886854656),  // 2^14
		uint256.NewInt(3584323654725218816),  // 2^15
		uint256.NewInt(696457651848324352),   // 2^16
		uint256.NewInt(26294789957507116),    // 2^17
		uint256.NewInt(37481735321082),       // 2^18
	}

	// log_sqrt(1.0001)(2) in Q32.32
	logB2X32 = uint256.NewInt(59543866431248)
	// error bounds of the log approximation, Q64.64
	logBPErrMarginLowerX64 = uint256.NewInt(184467440737095516)
	logBPErrMarginUpperX64 = uint256.NewInt(15793534762490258745)
)

// GetSqrtPriceAtTick returns sqrt(1.0001^tick) as a Q64.64 number.
func GetSqrtPriceAtTick(tick int32) (uint128.Uint128, error) {
	if tick < MinTick || tick > MaxTick {
		return uint128.Zero, fmt.Errorf("%w: %d", ErrTickOutOfBounds, tick)
	}

	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	var ratio uint256.Int
	if absTick&1 != 0 {
		ratio.Set(ladder[0])
	} else {
		ratio.Set(q64)
	}
	for i := 1; i < len(ladder); i++ {
		if absTick&(1<<i) != 0 {
			ratio.Mul(&ratio, ladder[i])
			ratio.Rsh(&ratio, 64)
		}
	}

	// the ladder computes 1.0001^-|tick|/2; invert for positive ticks
	if tick > 0 {
		ratio.Div(maxUint128, &ratio)
	}

	return fullmath.ToUint128(&ratio)
}

// GetTickAtSqrtPrice returns the greatest tick whose sqrt price is <= sqrtPriceX64.
//
// The integer part of log2(price) comes from the most significant bit, the fraction
// from repeated squaring of the normalised mantissa. The result is converted to base
// sqrt(1.0001) and bracketed by the approximation's error margins; when the bracket
// spans two ticks, the exact price of the upper one decides.
func GetTickAtSqrtPrice(sqrtPriceX64 uint128.Uint128) (int32, error) {
	if sqrtPriceX64.Cmp(MinSqrtPriceX64) < 0 || sqrtPriceX64.Cmp(MaxSqrtPriceX64) >= 0 {
		return 0, ErrSqrtPriceOutOfBounds
	}

	msb, err := bitmath.MostSignificantBit(sqrtPriceX64)
	if err != nil {
		return 0, err
	}
	log2IntegerX32 := (int64(msb) - 64) << 32

	// mantissa normalised into [2^63, 2^64)
	var r uint64
	if msb >= 64 {
		r = sqrtPriceX64.Rsh(uint(msb) - 63).Lo
	} else {
		r = sqrtPriceX64.Lo << (63 - msb)
	}

	var log2FractionX64 uint64
	bit := uint64(1) << 63
	for precision := 0; precision < bitPrecision; precision++ {
		hi, lo := bits.Mul64(r, r)
		// r*r is in [2^126, 2^128); bit 127 says the square crossed 2.0
		if hi>>63 == 1 {
			r = hi
			log2FractionX64 |= bit
		} else {
			r = hi<<1 | lo>>63
		}
		bit >>= 1
	}
	log2X32 := log2IntegerX32 + int64(log2FractionX64>>32)

	// log_sqrt(1.0001)(price) in Q64.64, signed, held as two's complement
	logSqrt10001X64 := new(uint256.Int)
	if log2X32 < 0 {
		logSqrt10001X64.SetUint64(uint64(-log2X32))
		logSqrt10001X64.Mul(logSqrt10001X64, logB2X32)
		logSqrt10001X64.Neg(logSqrt10001X64)
	} else {
		logSqrt10001X64.SetUint64(uint64(log2X32))
		logSqrt10001X64.Mul(logSqrt10001X64, logB2X32)
	}

	low := new(uint256.Int).Sub(logSqrt10001X64, logBPErrMarginLowerX64)
	low.SRsh(low, 64)
	high := new(uint256.Int).Add(logSqrt10001X64, logBPErrMarginUpperX64)
	high.SRsh(high, 64)

	tickLow := int32(int64(low.Uint64()))
	tickHigh := int32(int64(high.Uint64()))
	if tickLow == tickHigh {
		return tickLow, nil
	}

	sqrtPriceHigh, err := GetSqrtPriceAtTick(tickHigh)
	if err != nil {
		return tickLow, nil
	}
	if sqrtPriceHigh.Cmp(sqrtPriceX64) <= 0 {
		return tickHigh, nil
	}
	return tickLow, nil
}

// CheckTick returns ErrTickOutOfBounds when tick lies outside [MinTick, MaxTick].
func CheckTick(tick int32) error {
	if tick < MinTick || tick > MaxTick {
		return fmt.Errorf("%w: %d", ErrTickOutOfBounds, tick)
	}
	return nil
}
