package liquiditymath

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/fullmath"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/sqrtpricemath"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

var (
	// maxUint128 is the maximum value for a uint128 (2^128 - 1).
	maxUint128 = uint128.Max.Big()

	ErrLiquidityOverflow  = fmt.Errorf("%w: liquidity exceeds 128 bits", fullmath.ErrOverflow)
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta adds a signed liquidity delta to an unsigned liquidity value,
// returning an error if the operation results in an overflow or underflow.
func AddDelta(x uint128.Uint128, delta *big.Int) (uint128.Uint128, error) {
	sum := new(big.Int).Add(x.Big(), delta)

	if sum.Sign() < 0 {
		return uint128.Zero, ErrLiquidityUnderflow
	}
	if sum.Cmp(maxUint128) > 0 {
		return uint128.Zero, ErrLiquidityOverflow
	}

	return uint128.FromBig(sum), nil
}

// GetLiquidityFromAmount0 returns the liquidity that amount0 of token0 provides over [sqrtA, sqrtB]:
// amount0 * sqrtA * sqrtB / (sqrtB - sqrtA), rounded down.
func GetLiquidityFromAmount0(sqrtRatioAX64, sqrtRatioBX64 uint128.Uint128, amount0 uint64) (uint128.Uint128, error) {
	if sqrtRatioAX64.Cmp(sqrtRatioBX64) > 0 {
		sqrtRatioAX64, sqrtRatioBX64 = sqrtRatioBX64, sqrtRatioAX64
	}
	if sqrtRatioAX64.Equals(sqrtRatioBX64) {
		return uint128.Zero, fullmath.ErrDivisionByZero
	}

	intermediate, err := fullmath.MulDivFloor(new(uint256.Int), fullmath.U256(sqrtRatioAX64), fullmath.U256(sqrtRatioBX64), fullmath.Q64)
	if err != nil {
		return uint128.Zero, err
	}
	liquidity, err := fullmath.MulDivFloor(new(uint256.Int), uint256.NewInt(amount0), intermediate, fullmath.U256(sqrtRatioBX64.Sub(sqrtRatioAX64)))
	if err != nil {
		return uint128.Zero, err
	}
	return narrow(liquidity)
}

// GetLiquidityFromAmount1 returns the liquidity that amount1 of token1 provides over [sqrtA, sqrtB]:
// amount1 / (sqrtB - sqrtA), rounded down.
func GetLiquidityFromAmount1(sqrtRatioAX64, sqrtRatioBX64 uint128.Uint128, amount1 uint64) (uint128.Uint128, error) {
	if sqrtRatioAX64.Cmp(sqrtRatioBX64) > 0 {
		sqrtRatioAX64, sqrtRatioBX64 = sqrtRatioBX64, sqrtRatioAX64
	}
	if sqrtRatioAX64.Equals(sqrtRatioBX64) {
		return uint128.Zero, fullmath.ErrDivisionByZero
	}

	liquidity, err := fullmath.MulDivFloor(new(uint256.Int), uint256.NewInt(amount1), fullmath.Q64, fullmath.U256(sqrtRatioBX64.Sub(sqrtRatioAX64)))
	if err != nil {
		return uint128.Zero, err
	}
	return narrow(liquidity)
}

// GetLiquidityFromAmounts returns the largest liquidity over [sqrtA, sqrtB] that neither amount0 nor
// amount1 is short of, given the current price.
func GetLiquidityFromAmounts(sqrtPriceX64, sqrtRatioAX64, sqrtRatioBX64 uint128.Uint128, amount0, amount1 uint64) (uint128.Uint128, error) {
	if sqrtRatioAX64.Cmp(sqrtRatioBX64) > 0 {
		sqrtRatioAX64, sqrtRatioBX64 = sqrtRatioBX64, sqrtRatioAX64
	}

	switch {
	case sqrtPriceX64.Cmp(sqrtRatioAX64) <= 0:
		return GetLiquidityFromAmount0(sqrtRatioAX64, sqrtRatioBX64, amount0)
	case sqrtPriceX64.Cmp(sqrtRatioBX64) < 0:
		liquidity0, err := GetLiquidityFromAmount0(sqrtPriceX64, sqrtRatioBX64, amount0)
		if err != nil {
			return uint128.Zero, err
		}
		liquidity1, err := GetLiquidityFromAmount1(sqrtRatioAX64, sqrtPriceX64, amount1)
		if err != nil {
			return uint128.Zero, err
		}
		if liquidity0.Cmp(liquidity1) < 0 {
			return liquidity0, nil
		}
		return liquidity1, nil
	default:
		return GetLiquidityFromAmount1(sqrtRatioAX64, sqrtRatioBX64, amount1)
	}
}

// GetAmountsForLiquidity returns the token amounts that liquidity over [sqrtA, sqrtB] is worth at the
// current price. Deposits round up, withdrawals round down.
func GetAmountsForLiquidity(sqrtPriceX64, sqrtRatioAX64, sqrtRatioBX64, liquidity uint128.Uint128, roundUp bool) (amount0, amount1 uint64, err error) {
	if sqrtRatioAX64.Cmp(sqrtRatioBX64) > 0 {
		sqrtRatioAX64, sqrtRatioBX64 = sqrtRatioBX64, sqrtRatioAX64
	}

	switch {
	case sqrtPriceX64.Cmp(sqrtRatioAX64) <= 0:
		amount0, err = sqrtpricemath.GetAmount0DeltaUint64(sqrtRatioAX64, sqrtRatioBX64, liquidity, roundUp)
	case sqrtPriceX64.Cmp(sqrtRatioBX64) < 0:
		amount0, err = sqrtpricemath.GetAmount0DeltaUint64(sqrtPriceX64, sqrtRatioBX64, liquidity, roundUp)
		if err != nil {
			return 0, 0, err
		}
		amount1, err = sqrtpricemath.GetAmount1DeltaUint64(sqrtRatioAX64, sqrtPriceX64, liquidity, roundUp)
	default:
		amount1, err = sqrtpricemath.GetAmount1DeltaUint64(sqrtRatioAX64, sqrtRatioBX64, liquidity, roundUp)
	}
	if err != nil {
		return 0, 0, err
	}
	return amount0, amount1, nil
}

func narrow(x *uint256.Int) (uint128.Uint128, error) {
	v, err := fullmath.ToUint128(x)
	if err != nil {
		return uint128.Zero, ErrLiquidityOverflow
	}
	return v, nil
}
