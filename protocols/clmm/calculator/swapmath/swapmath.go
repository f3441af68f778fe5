package swapmath

import (
	"errors"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/fullmath"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/sqrtpricemath"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

// FeeRateDenominator is the denominator of fee rates, 100% in parts per million.
const FeeRateDenominator = 1_000_000

var ErrFeeRateTooHigh = errors.New("fee rate must be below 1e6")

// SwapStep is the outcome of swapping within a single price range.
type SwapStep struct {
	SqrtPriceNextX64 uint128.Uint128
	AmountIn         uint64
	AmountOut        uint64
	FeeAmount        uint64
}

// ComputeSwapStep calculates the result of a swap between the current price and a target
// price with constant liquidity. isBaseInput selects exact-input (amountRemaining is the
// input budget including fee) or exact-output (amountRemaining is the output still wanted).
// The direction is inferred from the prices: current >= target swaps token0 for token1.
//
// A target whose required amount does not fit in a token amount is treated as unreachable,
// so the step stops wherever amountRemaining takes the price.
func ComputeSwapStep(
	sqrtPriceCurrentX64 uint128.Uint128,
	sqrtPriceTargetX64 uint128.Uint128,
	liquidity uint128.Uint128,
	amountRemaining uint64,
	feeRate uint32,
	isBaseInput bool,
) (SwapStep, error) {
	if feeRate >= FeeRateDenominator {
		return SwapStep{}, ErrFeeRateTooHigh
	}

	var (
		step       SwapStep
		zeroForOne = sqrtPriceCurrentX64.Cmp(sqrtPriceTargetX64) >= 0
		reached    bool
		err        error
	)

	// amount needed to reach the target, possibly wider than 64 bits
	var toTarget *uint256.Int

	if isBaseInput {
		lessFee := uint256.NewInt(amountRemaining)
		lessFee.Mul(lessFee, uint256.NewInt(FeeRateDenominator-uint64(feeRate)))
		lessFee.Div(lessFee, uint256.NewInt(FeeRateDenominator))
		amountRemainingLessFee := lessFee.Uint64()

		if zeroForOne {
			toTarget, err = sqrtpricemath.GetAmount0Delta(sqrtPriceTargetX64, sqrtPriceCurrentX64, liquidity, true)
		} else {
			toTarget, err = sqrtpricemath.GetAmount1Delta(sqrtPriceCurrentX64, sqrtPriceTargetX64, liquidity, true)
		}
		if err != nil {
			return SwapStep{}, err
		}

		if toTarget.IsUint64() && amountRemainingLessFee >= toTarget.Uint64() {
			step.SqrtPriceNextX64 = sqrtPriceTargetX64
		} else {
			step.SqrtPriceNextX64, err = sqrtpricemath.GetNextSqrtPriceFromInput(sqrtPriceCurrentX64, liquidity, amountRemainingLessFee, zeroForOne)
			if err != nil {
				return SwapStep{}, err
			}
		}
	} else {
		if zeroForOne {
			toTarget, err = sqrtpricemath.GetAmount1Delta(sqrtPriceTargetX64, sqrtPriceCurrentX64, liquidity, false)
		} else {
			toTarget, err = sqrtpricemath.GetAmount0Delta(sqrtPriceCurrentX64, sqrtPriceTargetX64, liquidity, false)
		}
		if err != nil {
			return SwapStep{}, err
		}

		if toTarget.IsUint64() && amountRemaining >= toTarget.Uint64() {
			step.SqrtPriceNextX64 = sqrtPriceTargetX64
		} else {
			step.SqrtPriceNextX64, err = sqrtpricemath.GetNextSqrtPriceFromOutput(sqrtPriceCurrentX64, liquidity, amountRemaining, zeroForOne)
			if err != nil {
				return SwapStep{}, err
			}
		}
	}

	reached = step.SqrtPriceNextX64.Equals(sqrtPriceTargetX64)

	// --- Recalculate amounts based on the actual price movement ---
	if reached && isBaseInput && toTarget.IsUint64() {
		step.AmountIn = toTarget.Uint64()
	} else if zeroForOne {
		step.AmountIn, err = sqrtpricemath.GetAmount0DeltaUint64(step.SqrtPriceNextX64, sqrtPriceCurrentX64, liquidity, true)
	} else {
		step.AmountIn, err = sqrtpricemath.GetAmount1DeltaUint64(sqrtPriceCurrentX64, step.SqrtPriceNextX64, liquidity, true)
	}
	if err != nil {
		return SwapStep{}, err
	}

	if reached && !isBaseInput && toTarget.IsUint64() {
		step.AmountOut = toTarget.Uint64()
	} else if zeroForOne {
		step.AmountOut, err = sqrtpricemath.GetAmount1DeltaUint64(step.SqrtPriceNextX64, sqrtPriceCurrentX64, liquidity, false)
	} else {
		step.AmountOut, err = sqrtpricemath.GetAmount0DeltaUint64(sqrtPriceCurrentX64, step.SqrtPriceNextX64, liquidity, false)
	}
	if err != nil {
		return SwapStep{}, err
	}

	// --- Final Adjustments ---
	if !isBaseInput && step.AmountOut > amountRemaining {
		step.AmountOut = amountRemaining
	}

	if isBaseInput && !reached {
		// the price stopped short of the target, so whatever input is left over is fee
		step.FeeAmount = amountRemaining - step.AmountIn
	} else {
		fee, err := fullmath.MulDivCeil(
			new(uint256.Int),
			uint256.NewInt(step.AmountIn),
			uint256.NewInt(uint64(feeRate)),
			uint256.NewInt(FeeRateDenominator-uint64(feeRate)),
		)
		if err != nil {
			return SwapStep{}, err
		}
		if step.FeeAmount, err = fullmath.ToUint64(fee); err != nil {
			return SwapStep{}, err
		}
	}

	return step, nil
}
