package clmm

import (
	"fmt"
	"math/bits"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/fullmath"
	"lukechampine.com/uint128"
)

// Settle credits the position with everything its liquidity earned since the last checkpoint and
// moves the checkpoint to the given inside growths. It must run before the position's liquidity
// changes, since earnings are priced at the old liquidity.
func (p *Position) Settle(feeGrowthInside0X64, feeGrowthInside1X64 uint128.Uint128, rewardGrowthsInsideX64 [RewardCount]uint128.Uint128) error {
	owed0, err := accrue(p.TokenFeesOwed0, feeGrowthInside0X64.SubWrap(p.FeeGrowthInside0LastX64), p.Liquidity)
	if err != nil {
		return fmt.Errorf("fees owed token0: %w", err)
	}
	owed1, err := accrue(p.TokenFeesOwed1, feeGrowthInside1X64.SubWrap(p.FeeGrowthInside1LastX64), p.Liquidity)
	if err != nil {
		return fmt.Errorf("fees owed token1: %w", err)
	}

	var rewards [RewardCount]PositionRewardInfo
	for i, r := range p.RewardInfos {
		owed, err := accrue(r.RewardAmountOwed, rewardGrowthsInsideX64[i].SubWrap(r.GrowthInsideLastX64), p.Liquidity)
		if err != nil {
			return fmt.Errorf("reward %d owed: %w", i, err)
		}
		rewards[i] = PositionRewardInfo{GrowthInsideLastX64: rewardGrowthsInsideX64[i], RewardAmountOwed: owed}
	}

	p.FeeGrowthInside0LastX64 = feeGrowthInside0X64
	p.FeeGrowthInside1LastX64 = feeGrowthInside1X64
	p.TokenFeesOwed0 = owed0
	p.TokenFeesOwed1 = owed1
	p.RewardInfos = rewards
	return nil
}

// accrue returns owed + floor(growthDelta * liquidity / 2^64).
func accrue(owed uint64, growthDeltaX64, liquidity uint128.Uint128) (uint64, error) {
	earned, err := fullmath.MulShr64(growthDeltaX64, liquidity)
	if err != nil {
		return 0, err
	}
	sum := owed + earned
	if sum < owed {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// CollectFees pays out up to the requested amounts of owed fees; a request of zero takes everything.
func (p *Position) CollectFees(amount0Requested, amount1Requested uint64) (amount0, amount1 uint64) {
	amount0 = capRequest(amount0Requested, p.TokenFeesOwed0)
	amount1 = capRequest(amount1Requested, p.TokenFeesOwed1)
	p.TokenFeesOwed0 -= amount0
	p.TokenFeesOwed1 -= amount1
	return amount0, amount1
}

// CollectProtocolFee pays out up to the requested amounts of protocol fees; a request of zero takes everything.
func (p *Pool) CollectProtocolFee(amount0Requested, amount1Requested uint64) (amount0, amount1 uint64) {
	amount0 = capRequest(amount0Requested, p.ProtocolFeesToken0)
	amount1 = capRequest(amount1Requested, p.ProtocolFeesToken1)
	p.ProtocolFeesToken0 -= amount0
	p.ProtocolFeesToken1 -= amount1
	return amount0, amount1
}

// SetProtocolFeeRate changes the share of every swap fee kept by the protocol.
func (p *Pool) SetProtocolFeeRate(rate uint32) error {
	if rate > FeeRateDenominator {
		return fmt.Errorf("%w: protocol fee rate %d", ErrInvalidFeeRate, rate)
	}
	p.ProtocolFeeRate = rate
	return nil
}

// SplitFee divides a swap step's fee into the protocol's cut and the liquidity providers' share.
func (p *Pool) SplitFee(feeAmount uint64) (protocolFee, lpFee uint64) {
	if p.ProtocolFeeRate == 0 {
		return 0, feeAmount
	}
	// the quotient never exceeds feeAmount
	hi, lo := bits.Mul64(feeAmount, uint64(p.ProtocolFeeRate))
	protocolFee = uint128.New(lo, hi).Div64(FeeRateDenominator).Lo
	return protocolFee, feeAmount - protocolFee
}

// AccrueFeeGrowth adds lpFee spread over the active liquidity to the input token's global growth.
// Nothing accrues without active liquidity.
func (p *Pool) AccrueFeeGrowth(lpFee uint64, zeroForOne bool) error {
	if p.Liquidity.IsZero() || lpFee == 0 {
		return nil
	}
	growth, err := fullmath.MulDivFloor128(uint128.From64(lpFee), uint128.New(0, 1), p.Liquidity)
	if err != nil {
		return err
	}
	if zeroForOne {
		p.FeeGrowthGlobal0X64 = p.FeeGrowthGlobal0X64.AddWrap(growth)
	} else {
		p.FeeGrowthGlobal1X64 = p.FeeGrowthGlobal1X64.AddWrap(growth)
	}
	return nil
}

func capRequest(requested, available uint64) uint64 {
	if requested == 0 || requested > available {
		return available
	}
	return requested
}
