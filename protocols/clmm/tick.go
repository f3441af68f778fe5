package clmm

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/liquiditymath"
	"lukechampine.com/uint128"
)

var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// TickTable holds every initialized tick of a pool.
type TickTable map[int32]*TickState

// Get returns the tick, or nil if it is not initialized.
func (t TickTable) Get(tick int32) *TickState {
	return t[tick]
}

// Update applies a liquidity delta to a range boundary and reports whether the tick flipped
// between initialized and uninitialized. A tick initialized at or below the current tick assumes
// all growth so far happened below it.
func (t TickTable) Update(
	tick int32,
	tickCurrent int32,
	liquidityDelta *big.Int,
	globals GrowthGlobals,
	upper bool,
	maxLiquidity uint128.Uint128,
) (flipped bool, err error) {
	info, ok := t[tick]
	if ok {
		info = info.clone()
	} else {
		info = &TickState{Tick: tick, LiquidityNet: new(big.Int)}
	}

	grossBefore := info.LiquidityGross
	grossAfter, err := liquiditymath.AddDelta(grossBefore, liquidityDelta)
	if err != nil {
		if liquidityDelta.Sign() < 0 {
			return false, fmt.Errorf("%w: tick %d gross liquidity: %w", ErrInvariantViolation, tick, err)
		}
		return false, fmt.Errorf("tick %d: %w", tick, err)
	}
	if grossAfter.Cmp(maxLiquidity) > 0 {
		return false, fmt.Errorf("%w: tick %d gross liquidity above %s", ErrArithmeticOverflow, tick, maxLiquidity)
	}

	flipped = grossAfter.IsZero() != grossBefore.IsZero()

	if grossBefore.IsZero() && tick <= tickCurrent {
		// by convention, assume that all growth before a tick was initialized happened below the tick
		info.FeeGrowthOutside0X64 = globals.FeeGrowthGlobal0X64
		info.FeeGrowthOutside1X64 = globals.FeeGrowthGlobal1X64
		info.RewardGrowthsOutsideX64 = globals.RewardGrowthsGlobalX64
	}

	info.LiquidityGross = grossAfter

	// when the lower (upper) tick is crossed left to right (right to left), liquidity must be added (removed)
	if upper {
		info.LiquidityNet.Sub(info.LiquidityNet, liquidityDelta)
	} else {
		info.LiquidityNet.Add(info.LiquidityNet, liquidityDelta)
	}
	if info.LiquidityNet.Cmp(maxInt128) > 0 || info.LiquidityNet.Cmp(minInt128) < 0 {
		return false, fmt.Errorf("%w: tick %d liquidity net exceeds int128", ErrArithmeticOverflow, tick)
	}

	t[tick] = info
	return flipped, nil
}

// Cross transitions a tick as the price moves over it and returns its liquidity net.
func (t TickTable) Cross(tick int32, globals GrowthGlobals) (*big.Int, error) {
	info, ok := t[tick]
	if !ok {
		return nil, fmt.Errorf("%w: crossing uninitialized tick %d", ErrInvariantViolation, tick)
	}

	info.FeeGrowthOutside0X64 = globals.FeeGrowthGlobal0X64.SubWrap(info.FeeGrowthOutside0X64)
	info.FeeGrowthOutside1X64 = globals.FeeGrowthGlobal1X64.SubWrap(info.FeeGrowthOutside1X64)
	for i := range info.RewardGrowthsOutsideX64 {
		info.RewardGrowthsOutsideX64[i] = globals.RewardGrowthsGlobalX64[i].SubWrap(info.RewardGrowthsOutsideX64[i])
	}

	return new(big.Int).Set(info.LiquidityNet), nil
}

// Clear removes a tick that no longer has any liquidity referencing it.
func (t TickTable) Clear(tick int32) {
	delete(t, tick)
}

// GetFeeGrowthInside returns the fee growth per unit of liquidity inside [tickLower, tickUpper).
func (t TickTable) GetFeeGrowthInside(
	tickLower, tickUpper, tickCurrent int32,
	feeGrowthGlobal0X64, feeGrowthGlobal1X64 uint128.Uint128,
) (feeGrowthInside0X64, feeGrowthInside1X64 uint128.Uint128) {
	lower := t.outside(tickLower)
	upper := t.outside(tickUpper)

	below0, below1 := lower.FeeGrowthOutside0X64, lower.FeeGrowthOutside1X64
	if tickCurrent < tickLower {
		below0 = feeGrowthGlobal0X64.SubWrap(below0)
		below1 = feeGrowthGlobal1X64.SubWrap(below1)
	}

	above0, above1 := upper.FeeGrowthOutside0X64, upper.FeeGrowthOutside1X64
	if tickCurrent >= tickUpper {
		above0 = feeGrowthGlobal0X64.SubWrap(above0)
		above1 = feeGrowthGlobal1X64.SubWrap(above1)
	}

	feeGrowthInside0X64 = feeGrowthGlobal0X64.SubWrap(below0).SubWrap(above0)
	feeGrowthInside1X64 = feeGrowthGlobal1X64.SubWrap(below1).SubWrap(above1)
	return feeGrowthInside0X64, feeGrowthInside1X64
}

// GetRewardGrowthsInside returns the reward growth per unit of liquidity inside [tickLower, tickUpper)
// for each stream. Uninitialized streams report zero.
func (t TickTable) GetRewardGrowthsInside(
	tickLower, tickUpper, tickCurrent int32,
	rewardInfos [RewardCount]RewardInfo,
) (growths [RewardCount]uint128.Uint128) {
	lower := t.outside(tickLower)
	upper := t.outside(tickUpper)

	for i, r := range rewardInfos {
		if !r.Initialized {
			continue
		}
		global := r.RewardGrowthGlobalX64

		below := lower.RewardGrowthsOutsideX64[i]
		if tickCurrent < tickLower {
			below = global.SubWrap(below)
		}
		above := upper.RewardGrowthsOutsideX64[i]
		if tickCurrent >= tickUpper {
			above = global.SubWrap(above)
		}
		growths[i] = global.SubWrap(below).SubWrap(above)
	}
	return growths
}

// SumLiquidityNet adds up liquidity net over all ticks. A consistent table sums to zero.
func (t TickTable) SumLiquidityNet() *big.Int {
	sum := new(big.Int)
	for _, info := range t {
		sum.Add(sum, info.LiquidityNet)
	}
	return sum
}

// Indexes returns the initialized ticks in ascending order.
func (t TickTable) Indexes() []int32 {
	ticks := make([]int32, 0, len(t))
	for tick := range t {
		ticks = append(ticks, tick)
	}
	slices.Sort(ticks)
	return ticks
}

// Clone returns a deep copy.
func (t TickTable) Clone() TickTable {
	c := make(TickTable, len(t))
	for tick, info := range t {
		c[tick] = info.clone()
	}
	return c
}

// outside returns the tick's snapshot, or a zero record for a tick that is not initialized.
func (t TickTable) outside(tick int32) *TickState {
	if info, ok := t[tick]; ok {
		return info
	}
	return &TickState{Tick: tick, LiquidityNet: new(big.Int)}
}
