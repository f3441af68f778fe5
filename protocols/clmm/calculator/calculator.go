package calculator

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clmm/protocols/clmm"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/fullmath"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/swapmath"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/tickmath"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"lukechampine.com/uint128"
)

var (
	ErrNoOutput = fmt.Errorf("%w: swap produces no output", clmm.ErrInsufficientLiquidity)

	q64  = new(big.Int).Lsh(big.NewInt(1), 64)
	q128 = new(big.Int).Lsh(big.NewInt(1), 128)
)

// SwapParams describes one swap against a single pool.
type SwapParams struct {
	ZeroForOne bool
	// Amount is the exact input (IsBaseInput) or the exact output wanted.
	Amount      uint64
	IsBaseInput bool
	// SqrtPriceLimitX64 bounds how far the price may move. Zero means the edge of the price range.
	SqrtPriceLimitX64 uint128.Uint128
	// OtherAmountThreshold is the minimum output of an exact-input swap or the maximum input of
	// an exact-output swap. An exact-output swap with a zero maximum always fails.
	OtherAmountThreshold uint64
}

// SwapResult is what a swap did to the pool.
type SwapResult struct {
	// AmountIn is paid by the trader and includes FeeAmount.
	AmountIn     uint64
	AmountOut    uint64
	FeeAmount    uint64
	ProtocolFee  uint64
	SqrtPriceX64 uint128.Uint128
	Tick         int32
	Liquidity    uint128.Uint128
	TicksCrossed int
}

// swapState represents the state of a swap as it progresses.
type swapState struct {
	amountSpecifiedRemaining uint64
	amountCalculated         uint64
	feeAmount                uint64
	protocolFee              uint64
	ticksCrossed             int
}

// Swap executes a swap against state, mutating the pool record, crossed ticks and the oracle.
// On error state is left partially modified; callers run it on a copy (see Quote).
func Swap(state *clmm.PoolState, params SwapParams, now uint64) (SwapResult, error) {
	if params.Amount == 0 {
		return SwapResult{}, clmm.ErrInvalidAmount
	}
	pool := &state.Pool

	limit, err := priceLimit(pool.SqrtPriceX64, params.SqrtPriceLimitX64, params.ZeroForOne)
	if err != nil {
		return SwapResult{}, err
	}

	if err := pool.UpdateRewardInfos(now); err != nil {
		return SwapResult{}, err
	}

	tickStart := pool.TickCurrent
	liquidityStart := pool.Liquidity

	s := swapState{amountSpecifiedRemaining: params.Amount}
	if err := swapLoop(state, &s, limit, params.ZeroForOne, params.IsBaseInput); err != nil {
		return SwapResult{}, err
	}

	if !params.IsBaseInput && s.amountSpecifiedRemaining != 0 {
		return SwapResult{}, fmt.Errorf("%w: %d of %d still owed at price limit %s",
			clmm.ErrPriceLimitViolation, s.amountSpecifiedRemaining, params.Amount, limit)
	}

	var amountIn, amountOut uint64
	if params.IsBaseInput {
		amountIn = params.Amount - s.amountSpecifiedRemaining
		amountOut = s.amountCalculated
	} else {
		amountIn = s.amountCalculated
		amountOut = params.Amount - s.amountSpecifiedRemaining
	}
	if amountIn == 0 || amountOut == 0 {
		return SwapResult{}, ErrNoOutput
	}

	if params.IsBaseInput && amountOut < params.OtherAmountThreshold {
		return SwapResult{}, fmt.Errorf("%w: out %d below minimum %d", clmm.ErrSlippageExceeded, amountOut, params.OtherAmountThreshold)
	}
	if !params.IsBaseInput && amountIn > params.OtherAmountThreshold {
		return SwapResult{}, fmt.Errorf("%w: in %d above maximum %d", clmm.ErrSlippageExceeded, amountIn, params.OtherAmountThreshold)
	}

	// the observation covers the interval that ends now, over which the pre-swap state held
	if pool.TickCurrent != tickStart {
		state.WriteObservation(now, tickStart, liquidityStart)
	}

	if params.ZeroForOne {
		pool.SwapInAmountToken0 = pool.SwapInAmountToken0.AddWrap64(amountIn)
		pool.SwapOutAmountToken1 = pool.SwapOutAmountToken1.AddWrap64(amountOut)
	} else {
		pool.SwapInAmountToken1 = pool.SwapInAmountToken1.AddWrap64(amountIn)
		pool.SwapOutAmountToken0 = pool.SwapOutAmountToken0.AddWrap64(amountOut)
	}

	return SwapResult{
		AmountIn:     amountIn,
		AmountOut:    amountOut,
		FeeAmount:    s.feeAmount,
		ProtocolFee:  s.protocolFee,
		SqrtPriceX64: pool.SqrtPriceX64,
		Tick:         pool.TickCurrent,
		Liquidity:    pool.Liquidity,
		TicksCrossed: s.ticksCrossed,
	}, nil
}

// Quote runs Swap on a copy of state and leaves state untouched.
func Quote(state *clmm.PoolState, params SwapParams, now uint64) (SwapResult, error) {
	return Swap(state.Clone(), params, now)
}

// priceLimit resolves a zero limit to the edge of the price range and checks the limit lies
// strictly on the side of the current price that the swap moves toward.
func priceLimit(current, limit uint128.Uint128, zeroForOne bool) (uint128.Uint128, error) {
	if zeroForOne {
		if limit.IsZero() {
			limit = tickmath.MinSqrtPriceX64.Add64(1)
		}
		if limit.Cmp(current) >= 0 || limit.Cmp(tickmath.MinSqrtPriceX64) <= 0 {
			return uint128.Zero, fmt.Errorf("%w: limit %s, current %s", clmm.ErrPriceLimitViolation, limit, current)
		}
		return limit, nil
	}
	if limit.IsZero() {
		limit = tickmath.MaxSqrtPriceX64.Sub64(1)
	}
	if limit.Cmp(current) <= 0 || limit.Cmp(tickmath.MaxSqrtPriceX64) >= 0 {
		return uint128.Zero, fmt.Errorf("%w: limit %s, current %s", clmm.ErrPriceLimitViolation, limit, current)
	}
	return limit, nil
}

// swapLoop walks the price one initialized tick (or bitmap word) at a time until the amount is
// exhausted or the limit is reached.
func swapLoop(state *clmm.PoolState, s *swapState, limit uint128.Uint128, zeroForOne, isBaseInput bool) error {
	pool := &state.Pool

	for s.amountSpecifiedRemaining != 0 && !pool.SqrtPriceX64.Equals(limit) {
		sqrtPriceStartX64 := pool.SqrtPriceX64

		tickNext, initialized := state.Bitmap.NextInitializedTickWithinOneWord(pool.TickCurrent, pool.TickSpacing, zeroForOne)
		// the bitmap is unaware of the tick bounds
		if tickNext < tickmath.MinTick {
			tickNext = tickmath.MinTick
		} else if tickNext > tickmath.MaxTick {
			tickNext = tickmath.MaxTick
		}

		sqrtPriceNextX64, err := tickmath.GetSqrtPriceAtTick(tickNext)
		if err != nil {
			return err
		}

		target := sqrtPriceNextX64
		if (zeroForOne && sqrtPriceNextX64.Cmp(limit) < 0) || (!zeroForOne && sqrtPriceNextX64.Cmp(limit) > 0) {
			target = limit
		}

		step, err := swapmath.ComputeSwapStep(
			sqrtPriceStartX64,
			target,
			pool.Liquidity,
			s.amountSpecifiedRemaining,
			pool.TradeFeeRate,
			isBaseInput,
		)
		if err != nil {
			return err
		}
		pool.SqrtPriceX64 = step.SqrtPriceNextX64

		if err := s.apply(step, isBaseInput); err != nil {
			return err
		}

		protocolFee, lpFee := pool.SplitFee(step.FeeAmount)
		if protocolFee > 0 {
			if err := addProtocolFee(pool, protocolFee, zeroForOne); err != nil {
				return err
			}
			s.protocolFee += protocolFee
		}
		if err := pool.AccrueFeeGrowth(lpFee, zeroForOne); err != nil {
			return err
		}

		switch {
		case pool.SqrtPriceX64.Equals(sqrtPriceNextX64):
			// shift tick if we reached the next price
			if initialized {
				liquidityNet, err := state.Ticks.Cross(tickNext, pool.GrowthGlobals())
				if err != nil {
					return err
				}
				// moving leftward, liquidity net is interpreted as the opposite sign
				if zeroForOne {
					liquidityNet.Neg(liquidityNet)
				}
				pool.Liquidity, err = liquiditymath.AddDelta(pool.Liquidity, liquidityNet)
				if err != nil {
					if errors.Is(err, liquiditymath.ErrLiquidityUnderflow) {
						return fmt.Errorf("%w: crossing tick %d: %w", clmm.ErrInvariantViolation, tickNext, err)
					}
					return err
				}
				s.ticksCrossed++
			}
			if zeroForOne {
				pool.TickCurrent = tickNext - 1
			} else {
				pool.TickCurrent = tickNext
			}

		case !pool.SqrtPriceX64.Equals(sqrtPriceStartX64):
			// recompute unless we're on a lower tick boundary (already transitioned ticks) and haven't moved
			pool.TickCurrent, err = tickmath.GetTickAtSqrtPrice(pool.SqrtPriceX64)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// apply books one step against the remaining and calculated amounts.
func (s *swapState) apply(step swapmath.SwapStep, isBaseInput bool) error {
	in := step.AmountIn + step.FeeAmount
	if in < step.AmountIn {
		return fmt.Errorf("%w: step input", clmm.ErrArithmeticOverflow)
	}

	if isBaseInput {
		if in > s.amountSpecifiedRemaining {
			return fmt.Errorf("%w: step spends %d of %d remaining", clmm.ErrInvariantViolation, in, s.amountSpecifiedRemaining)
		}
		s.amountSpecifiedRemaining -= in
		return s.addCalculated(step.AmountOut, step.FeeAmount)
	}

	if step.AmountOut > s.amountSpecifiedRemaining {
		return fmt.Errorf("%w: step pays %d of %d remaining", clmm.ErrInvariantViolation, step.AmountOut, s.amountSpecifiedRemaining)
	}
	s.amountSpecifiedRemaining -= step.AmountOut
	return s.addCalculated(in, step.FeeAmount)
}

func (s *swapState) addCalculated(amount, fee uint64) error {
	calculated := s.amountCalculated + amount
	if calculated < s.amountCalculated {
		return fmt.Errorf("%w: swap amount", clmm.ErrArithmeticOverflow)
	}
	s.amountCalculated = calculated
	s.feeAmount += fee
	return nil
}

func addProtocolFee(pool *clmm.Pool, fee uint64, zeroForOne bool) error {
	owed := &pool.ProtocolFeesToken1
	if zeroForOne {
		owed = &pool.ProtocolFeesToken0
	}
	sum := *owed + fee
	if sum < *owed {
		return fmt.Errorf("%w: protocol fees", clmm.ErrArithmeticOverflow)
	}
	*owed = sum
	return nil
}

// GetVirtualReserves returns the reserves a constant-product pool with the same liquidity and
// price would hold: L / sqrtP of token0 and L * sqrtP of token1.
func GetVirtualReserves(pool clmm.Pool) (reserve0, reserve1 *uint256.Int, err error) {
	if pool.SqrtPriceX64.IsZero() {
		return nil, nil, fmt.Errorf("%w: zero price", clmm.ErrInvariantViolation)
	}
	liquidity := fullmath.U256(pool.Liquidity)
	sqrtPrice := fullmath.U256(pool.SqrtPriceX64)

	reserve0, err = fullmath.MulDivFloor(new(uint256.Int), liquidity, fullmath.Q64, sqrtPrice)
	if err != nil {
		return nil, nil, err
	}
	reserve1, err = fullmath.MulDivFloor(new(uint256.Int), liquidity, sqrtPrice, fullmath.Q64)
	if err != nil {
		return nil, nil, err
	}
	return reserve0, reserve1, nil
}

// SpotPrice returns the price of token0 in units of token1, adjusted for token decimals.
func SpotPrice(sqrtPriceX64 uint128.Uint128, decimals0, decimals1 uint8) decimal.Decimal {
	sq := sqrtPriceX64.Big()
	sq.Mul(sq, sq)
	price := decimal.NewFromBigInt(sq, 0).DivRound(decimal.NewFromBigInt(q128, 0), 36)
	return price.Shift(int32(decimals0) - int32(decimals1))
}

// SqrtPriceFromPrice converts a decimal price of token0 in token1 into a Q64.64 square root price,
// rounding down.
func SqrtPriceFromPrice(price decimal.Decimal, decimals0, decimals1 uint8) (uint128.Uint128, error) {
	if !price.IsPositive() {
		return uint128.Zero, fmt.Errorf("%w: price %s", clmm.ErrInvalidAmount, price)
	}
	raw := price.Shift(int32(decimals1) - int32(decimals0))
	scaled := raw.Mul(decimal.NewFromBigInt(q128, 0)).BigInt()
	root := new(big.Int).Sqrt(scaled)
	if root.Cmp(tickmath.MinSqrtPriceX64.Big()) < 0 || root.Cmp(tickmath.MaxSqrtPriceX64.Big()) >= 0 {
		return uint128.Zero, fmt.Errorf("%w: price %s", tickmath.ErrSqrtPriceOutOfBounds, price)
	}
	return uint128.FromBig(root), nil
}

// TickPrice returns the price of token0 in token1 at tick.
func TickPrice(tick int32, decimals0, decimals1 uint8) (decimal.Decimal, error) {
	sqrtPriceX64, err := tickmath.GetSqrtPriceAtTick(tick)
	if err != nil {
		return decimal.Zero, err
	}
	return SpotPrice(sqrtPriceX64, decimals0, decimals1), nil
}

// AmountToDecimal scales a raw token amount down by its decimals.
func AmountToDecimal(amount uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
}

// q64Float converts a Q64.64 value to a decimal, used for reward rates and growth display.
func q64Float(v uint128.Uint128) decimal.Decimal {
	return decimal.NewFromBigInt(v.Big(), 0).DivRound(decimal.NewFromBigInt(q64, 0), 18)
}

// EmissionsPerSecond returns a reward stream's Q64.64 rate as a decimal token amount per second.
func EmissionsPerSecond(r clmm.RewardInfo) decimal.Decimal {
	return q64Float(r.EmissionsPerSecondX64)
}
