package sqrtpricemath

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/fullmath"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

var (
	// Resolution is the number of fractional bits of a Q64.64 price.
	Resolution = uint(64)

	ErrLiquidityZero = errors.New("liquidity must be greater than zero")
	ErrSqrtPriceZero = errors.New("sqrt price must be greater than zero")
	// ErrPriceOverflow is returned when an amount would push the price outside 128 bits or below zero.
	ErrPriceOverflow = fmt.Errorf("%w: next sqrt price out of range", fullmath.ErrOverflow)
)

// --- Next Price ---

// GetNextSqrtPriceFromAmount0RoundingUp returns the price after adding (or removing) amount of token0.
// The result is rounded up so the price never moves further than the amount pays for.
//
//	add:    L*P / (L + amount*P)
//	remove: L*P / (L - amount*P)
func GetNextSqrtPriceFromAmount0RoundingUp(sqrtPX64, liquidity uint128.Uint128, amount uint64, add bool) (uint128.Uint128, error) {
	if amount == 0 {
		return sqrtPX64, nil
	}

	numerator1 := fullmath.U256(liquidity)
	numerator1.Lsh(numerator1, Resolution)
	sqrtP := fullmath.U256(sqrtPX64)
	product := new(uint256.Int).Mul(uint256.NewInt(amount), sqrtP)

	denominator := new(uint256.Int)
	if add {
		denominator.Add(numerator1, product)
	} else {
		if numerator1.Cmp(product) <= 0 {
			return uint128.Zero, ErrPriceOverflow
		}
		denominator.Sub(numerator1, product)
	}

	next, err := fullmath.MulDivCeil(new(uint256.Int), numerator1, sqrtP, denominator)
	if err != nil {
		return uint128.Zero, err
	}
	out, err := fullmath.ToUint128(next)
	if err != nil {
		return uint128.Zero, ErrPriceOverflow
	}
	return out, nil
}

// GetNextSqrtPriceFromAmount1RoundingDown returns the price after adding (or removing) amount of token1.
// The result is rounded down.
//
//	add:    P + amount/L
//	remove: P - amount/L
func GetNextSqrtPriceFromAmount1RoundingDown(sqrtPX64, liquidity uint128.Uint128, amount uint64, add bool) (uint128.Uint128, error) {
	scaled := new(uint256.Int).Lsh(uint256.NewInt(amount), Resolution)
	l := fullmath.U256(liquidity)
	sqrtP := fullmath.U256(sqrtPX64)

	quotient := new(uint256.Int)
	if add {
		quotient.Div(scaled, l)
		next := new(uint256.Int).Add(sqrtP, quotient)
		out, err := fullmath.ToUint128(next)
		if err != nil {
			return uint128.Zero, ErrPriceOverflow
		}
		return out, nil
	}

	if _, err := fullmath.DivCeil(quotient, scaled, l); err != nil {
		return uint128.Zero, err
	}
	if sqrtP.Cmp(quotient) <= 0 {
		return uint128.Zero, ErrPriceOverflow
	}
	out, _ := fullmath.ToUint128(new(uint256.Int).Sub(sqrtP, quotient))
	return out, nil
}

// GetNextSqrtPriceFromInput calculates the next sqrt price given an input amount.
func GetNextSqrtPriceFromInput(sqrtPX64, liquidity uint128.Uint128, amountIn uint64, zeroForOne bool) (uint128.Uint128, error) {
	if sqrtPX64.IsZero() {
		return uint128.Zero, ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return uint128.Zero, ErrLiquidityZero
	}

	if zeroForOne {
		return GetNextSqrtPriceFromAmount0RoundingUp(sqrtPX64, liquidity, amountIn, true)
	}
	return GetNextSqrtPriceFromAmount1RoundingDown(sqrtPX64, liquidity, amountIn, true)
}

// GetNextSqrtPriceFromOutput calculates the next sqrt price given an output amount.
func GetNextSqrtPriceFromOutput(sqrtPX64, liquidity uint128.Uint128, amountOut uint64, zeroForOne bool) (uint128.Uint128, error) {
	if sqrtPX64.IsZero() {
		return uint128.Zero, ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return uint128.Zero, ErrLiquidityZero
	}

	if zeroForOne {
		return GetNextSqrtPriceFromAmount1RoundingDown(sqrtPX64, liquidity, amountOut, false)
	}
	return GetNextSqrtPriceFromAmount0RoundingUp(sqrtPX64, liquidity, amountOut, false)
}

// --- Amount Deltas ---

// GetAmount0Delta returns L * (1/sqrtA - 1/sqrtB) = L*(sqrtB-sqrtA) / (sqrtA*sqrtB).
// The result is left at full width so callers can tell "more than 64 bits" apart from an error.
func GetAmount0Delta(sqrtRatioAX64, sqrtRatioBX64, liquidity uint128.Uint128, roundUp bool) (*uint256.Int, error) {
	if sqrtRatioAX64.Cmp(sqrtRatioBX64) > 0 {
		sqrtRatioAX64, sqrtRatioBX64 = sqrtRatioBX64, sqrtRatioAX64
	}
	if sqrtRatioAX64.IsZero() {
		return nil, ErrSqrtPriceZero
	}

	numerator1 := fullmath.U256(liquidity)
	numerator1.Lsh(numerator1, Resolution)
	numerator2 := fullmath.U256(sqrtRatioBX64.Sub(sqrtRatioAX64))
	a := fullmath.U256(sqrtRatioAX64)
	b := fullmath.U256(sqrtRatioBX64)

	term := new(uint256.Int)
	if roundUp {
		if _, err := fullmath.MulDivCeil(term, numerator1, numerator2, b); err != nil {
			return nil, err
		}
		return fullmath.DivCeil(term, term, a)
	}
	if _, err := fullmath.MulDivFloor(term, numerator1, numerator2, b); err != nil {
		return nil, err
	}
	return term.Div(term, a), nil
}

// GetAmount1Delta returns L * (sqrtB - sqrtA).
func GetAmount1Delta(sqrtRatioAX64, sqrtRatioBX64, liquidity uint128.Uint128, roundUp bool) (*uint256.Int, error) {
	if sqrtRatioAX64.Cmp(sqrtRatioBX64) > 0 {
		sqrtRatioAX64, sqrtRatioBX64 = sqrtRatioBX64, sqrtRatioAX64
	}

	diff := fullmath.U256(sqrtRatioBX64.Sub(sqrtRatioAX64))
	l := fullmath.U256(liquidity)
	if roundUp {
		return fullmath.MulDivCeil(new(uint256.Int), l, diff, fullmath.Q64)
	}
	return fullmath.MulDivFloor(new(uint256.Int), l, diff, fullmath.Q64)
}

// GetAmount0DeltaUint64 is GetAmount0Delta narrowed to a token amount.
func GetAmount0DeltaUint64(sqrtRatioAX64, sqrtRatioBX64, liquidity uint128.Uint128, roundUp bool) (uint64, error) {
	amount, err := GetAmount0Delta(sqrtRatioAX64, sqrtRatioBX64, liquidity, roundUp)
	if err != nil {
		return 0, err
	}
	return fullmath.ToUint64(amount)
}

// GetAmount1DeltaUint64 is GetAmount1Delta narrowed to a token amount.
func GetAmount1DeltaUint64(sqrtRatioAX64, sqrtRatioBX64, liquidity uint128.Uint128, roundUp bool) (uint64, error) {
	amount, err := GetAmount1Delta(sqrtRatioAX64, sqrtRatioBX64, liquidity, roundUp)
	if err != nil {
		return 0, err
	}
	return fullmath.ToUint64(amount)
}
