package clmm

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/sqrtpricemath"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/tickmath"
	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

// checkTicks validates a position range against the pool's bounds and spacing.
func (s *PoolState) checkTicks(tickLower, tickUpper int32) error {
	if tickLower >= tickUpper {
		return fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidTickOrdering, tickLower, tickUpper)
	}
	if err := tickmath.CheckTick(tickLower); err != nil {
		return err
	}
	if err := tickmath.CheckTick(tickUpper); err != nil {
		return err
	}
	spacing := int32(s.Pool.TickSpacing)
	if tickLower%spacing != 0 || tickUpper%spacing != 0 {
		return fmt.Errorf("%w: [%d, %d) not aligned to spacing %d", ErrInvalidTickOrdering, tickLower, tickUpper, spacing)
	}
	return nil
}

// ModifyPosition adds (delta > 0) or removes (delta < 0) liquidity from a position and returns
// the token amounts paid in or released. Deposits round up and withdrawals round down, so the
// pool never gives out more than it took in. A zero delta only settles what the position earned.
//
// On error s is left partially modified; callers run it on a copy.
func (s *PoolState) ModifyPosition(pos *Position, liquidityDelta *big.Int, now uint64) (amount0, amount1 uint64, err error) {
	if err := s.checkTicks(pos.TickLower, pos.TickUpper); err != nil {
		return 0, 0, err
	}

	liquidityAfter, err := liquiditymath.AddDelta(pos.Liquidity, liquidityDelta)
	if err != nil {
		if liquidityDelta.Sign() < 0 {
			return 0, 0, fmt.Errorf("%w: position holds %s, removing %s", ErrInsufficientLiquidity, pos.Liquidity, new(big.Int).Neg(liquidityDelta))
		}
		return 0, 0, fmt.Errorf("position liquidity: %w", err)
	}
	if liquidityDelta.Sign() == 0 && pos.Liquidity.IsZero() {
		return 0, 0, fmt.Errorf("%w: position %s holds no liquidity", ErrInsufficientLiquidity, pos.ID)
	}

	if err := s.Pool.UpdateRewardInfos(now); err != nil {
		return 0, 0, err
	}

	tickCurrent := s.Pool.TickCurrent
	globals := s.Pool.GrowthGlobals()

	var flippedLower, flippedUpper bool
	if liquidityDelta.Sign() != 0 {
		maxLiquidity := MaxLiquidityPerTick(s.Pool.TickSpacing)

		if flippedLower, err = s.Ticks.Update(pos.TickLower, tickCurrent, liquidityDelta, globals, false, maxLiquidity); err != nil {
			return 0, 0, err
		}
		if flippedUpper, err = s.Ticks.Update(pos.TickUpper, tickCurrent, liquidityDelta, globals, true, maxLiquidity); err != nil {
			return 0, 0, err
		}

		if flippedLower {
			if err := s.Bitmap.Flip(pos.TickLower, s.Pool.TickSpacing); err != nil {
				return 0, 0, fmt.Errorf("%w: %w", ErrInvalidTickOrdering, err)
			}
		}
		if flippedUpper {
			if err := s.Bitmap.Flip(pos.TickUpper, s.Pool.TickSpacing); err != nil {
				return 0, 0, fmt.Errorf("%w: %w", ErrInvalidTickOrdering, err)
			}
		}
	}

	feeGrowthInside0X64, feeGrowthInside1X64 := s.Ticks.GetFeeGrowthInside(
		pos.TickLower, pos.TickUpper, tickCurrent,
		globals.FeeGrowthGlobal0X64, globals.FeeGrowthGlobal1X64,
	)
	rewardGrowthsInside := s.Ticks.GetRewardGrowthsInside(pos.TickLower, pos.TickUpper, tickCurrent, s.Pool.RewardInfos)

	if err := pos.Settle(feeGrowthInside0X64, feeGrowthInside1X64, rewardGrowthsInside); err != nil {
		return 0, 0, err
	}
	pos.Liquidity = liquidityAfter

	// clear any tick data that is no longer needed
	if liquidityDelta.Sign() < 0 {
		if flippedLower {
			s.Ticks.Clear(pos.TickLower)
		}
		if flippedUpper {
			s.Ticks.Clear(pos.TickUpper)
		}
	}

	if liquidityDelta.Sign() == 0 {
		return 0, 0, nil
	}
	return s.settleAmounts(pos, liquidityDelta, now)
}

// settleAmounts computes the token amounts for a liquidity change and, when the range is active,
// moves the pool's liquidity with it.
func (s *PoolState) settleAmounts(pos *Position, liquidityDelta *big.Int, now uint64) (amount0, amount1 uint64, err error) {
	sqrtLower, err := tickmath.GetSqrtPriceAtTick(pos.TickLower)
	if err != nil {
		return 0, 0, err
	}
	sqrtUpper, err := tickmath.GetSqrtPriceAtTick(pos.TickUpper)
	if err != nil {
		return 0, 0, err
	}

	roundUp := liquidityDelta.Sign() > 0
	liquidity := uint128.FromBig(new(big.Int).Abs(liquidityDelta))

	switch {
	case s.Pool.TickCurrent < pos.TickLower:
		// current tick is below the range; liquidity can only become in range by crossing from left
		// to right, when the position needs token0
		amount0, err = sqrtpricemath.GetAmount0DeltaUint64(sqrtLower, sqrtUpper, liquidity, roundUp)
		if err != nil {
			return 0, 0, err
		}

	case s.Pool.TickCurrent < pos.TickUpper:
		s.WriteObservation(now, s.Pool.TickCurrent, s.Pool.Liquidity)

		amount0, err = sqrtpricemath.GetAmount0DeltaUint64(s.Pool.SqrtPriceX64, sqrtUpper, liquidity, roundUp)
		if err != nil {
			return 0, 0, err
		}
		amount1, err = sqrtpricemath.GetAmount1DeltaUint64(sqrtLower, s.Pool.SqrtPriceX64, liquidity, roundUp)
		if err != nil {
			return 0, 0, err
		}

		active, err := liquiditymath.AddDelta(s.Pool.Liquidity, liquidityDelta)
		if err != nil {
			if liquidityDelta.Sign() < 0 {
				return 0, 0, fmt.Errorf("%w: active liquidity: %w", ErrInvariantViolation, err)
			}
			return 0, 0, fmt.Errorf("active liquidity: %w", err)
		}
		s.Pool.Liquidity = active

	default:
		// current tick is above the range; the position is entirely token1
		amount1, err = sqrtpricemath.GetAmount1DeltaUint64(sqrtLower, sqrtUpper, liquidity, roundUp)
		if err != nil {
			return 0, 0, err
		}
	}
	return amount0, amount1, nil
}

// LiquidityForAmounts returns the most liquidity that amount0 and amount1 can fund over
// [tickLower, tickUpper) at the current price.
func (s *PoolState) LiquidityForAmounts(tickLower, tickUpper int32, amount0, amount1 uint64) (uint128.Uint128, error) {
	if err := s.checkTicks(tickLower, tickUpper); err != nil {
		return uint128.Zero, err
	}
	sqrtLower, err := tickmath.GetSqrtPriceAtTick(tickLower)
	if err != nil {
		return uint128.Zero, err
	}
	sqrtUpper, err := tickmath.GetSqrtPriceAtTick(tickUpper)
	if err != nil {
		return uint128.Zero, err
	}
	return liquiditymath.GetLiquidityFromAmounts(s.Pool.SqrtPriceX64, sqrtLower, sqrtUpper, amount0, amount1)
}

// ClosePosition removes a position that holds nothing.
func (s *PoolState) ClosePosition(id solana.PublicKey) error {
	pos, err := s.Position(id)
	if err != nil {
		return err
	}
	if !pos.IsEmpty() {
		return fmt.Errorf("%w: position %s still holds liquidity or owed tokens", ErrPositionNotEmpty, id)
	}
	delete(s.Positions, id)
	return nil
}
