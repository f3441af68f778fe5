package clmm

import (
	"math/big"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/swapmath"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/tickmath"
	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

const (
	// RewardCount is the number of reward streams a pool can run.
	RewardCount = 3

	// FeeRateDenominator is the denominator of trade and protocol fee rates (hundredths of a bip).
	FeeRateDenominator = swapmath.FeeRateDenominator
)

// AmmConfig is a registered fee tier.
type AmmConfig struct {
	Index           uint16 `json:"index" yaml:"index"`
	TickSpacing     uint16 `json:"tickSpacing" yaml:"tickSpacing"`
	TradeFeeRate    uint32 `json:"tradeFeeRate" yaml:"tradeFeeRate"`
	ProtocolFeeRate uint32 `json:"protocolFeeRate" yaml:"protocolFeeRate"`
}

// Validate checks the rates against FeeRateDenominator.
func (c AmmConfig) Validate() error {
	if c.TickSpacing == 0 {
		return ErrInvalidTickSpacing
	}
	if c.TradeFeeRate >= FeeRateDenominator || c.ProtocolFeeRate > FeeRateDenominator {
		return ErrInvalidFeeRate
	}
	return nil
}

// RewardInfo is the global state of one reward stream.
type RewardInfo struct {
	Initialized    bool
	OpenTime       uint64
	EndTime        uint64
	LastUpdateTime uint64
	// EmissionsPerSecondX64 is the Q64.64 amount of reward tokens emitted per second.
	EmissionsPerSecondX64 uint128.Uint128
	RewardTotalEmissioned uint64
	RewardClaimed         uint64
	TokenMint             solana.PublicKey
	// RewardGrowthGlobalX64 is the Q64.64 reward per unit of liquidity since the stream opened.
	RewardGrowthGlobalX64 uint128.Uint128
}

// Pool is the per-pool record mutated by every swap and liquidity change.
type Pool struct {
	ID         solana.PublicKey
	AmmConfig  uint16
	TokenMint0 solana.PublicKey
	TokenMint1 solana.PublicKey

	TickSpacing     uint16
	TradeFeeRate    uint32
	ProtocolFeeRate uint32

	// Liquidity states
	SqrtPriceX64        uint128.Uint128
	TickCurrent         int32
	Liquidity           uint128.Uint128
	FeeGrowthGlobal0X64 uint128.Uint128
	FeeGrowthGlobal1X64 uint128.Uint128
	ProtocolFeesToken0  uint64
	ProtocolFeesToken1  uint64
	SwapInAmountToken0  uint128.Uint128
	SwapOutAmountToken1 uint128.Uint128
	SwapInAmountToken1  uint128.Uint128
	SwapOutAmountToken0 uint128.Uint128

	// Reward states
	RewardInfos [RewardCount]RewardInfo

	// Oracle cursor
	ObservationIndex           uint16
	ObservationCardinality     uint16
	ObservationCardinalityNext uint16

	OpenTime uint64
}

// GrowthGlobals is the set of global accumulators snapshotted into tick outside values.
type GrowthGlobals struct {
	FeeGrowthGlobal0X64    uint128.Uint128
	FeeGrowthGlobal1X64    uint128.Uint128
	RewardGrowthsGlobalX64 [RewardCount]uint128.Uint128
}

// GrowthGlobals returns the pool's current accumulators.
func (p *Pool) GrowthGlobals() GrowthGlobals {
	g := GrowthGlobals{
		FeeGrowthGlobal0X64: p.FeeGrowthGlobal0X64,
		FeeGrowthGlobal1X64: p.FeeGrowthGlobal1X64,
	}
	for i, r := range p.RewardInfos {
		if r.Initialized {
			g.RewardGrowthsGlobalX64[i] = r.RewardGrowthGlobalX64
		}
	}
	return g
}

// TickState is the record of one initialized tick.
type TickState struct {
	Tick int32
	// LiquidityNet is the liquidity added when the tick is crossed left to right; int128 range.
	LiquidityNet *big.Int
	// LiquidityGross is the total liquidity referencing the tick.
	LiquidityGross          uint128.Uint128
	FeeGrowthOutside0X64    uint128.Uint128
	FeeGrowthOutside1X64    uint128.Uint128
	RewardGrowthsOutsideX64 [RewardCount]uint128.Uint128
}

func (t *TickState) clone() *TickState {
	c := *t
	c.LiquidityNet = new(big.Int).Set(t.LiquidityNet)
	return &c
}

// PositionRewardInfo is a position's checkpoint for one reward stream.
type PositionRewardInfo struct {
	GrowthInsideLastX64 uint128.Uint128
	RewardAmountOwed    uint64
}

// Position is liquidity held by one owner over [TickLower, TickUpper).
type Position struct {
	ID        solana.PublicKey
	PoolID    solana.PublicKey
	Owner     solana.PublicKey
	TickLower int32
	TickUpper int32
	Liquidity uint128.Uint128

	FeeGrowthInside0LastX64 uint128.Uint128
	FeeGrowthInside1LastX64 uint128.Uint128
	TokenFeesOwed0          uint64
	TokenFeesOwed1          uint64

	RewardInfos [RewardCount]PositionRewardInfo
}

// IsEmpty reports whether the position holds nothing: no liquidity and nothing owed.
func (p *Position) IsEmpty() bool {
	if !p.Liquidity.IsZero() || p.TokenFeesOwed0 != 0 || p.TokenFeesOwed1 != 0 {
		return false
	}
	for _, r := range p.RewardInfos {
		if r.RewardAmountOwed != 0 {
			return false
		}
	}
	return true
}

// MaxLiquidityPerTick is the largest gross liquidity a single tick may reference, chosen so that the
// sum over every usable tick still fits in 128 bits.
func MaxLiquidityPerTick(tickSpacing uint16) uint128.Uint128 {
	spacing := int32(tickSpacing)
	minTick := (tickmath.MinTick / spacing) * spacing
	maxTick := (tickmath.MaxTick / spacing) * spacing
	numTicks := uint64((maxTick-minTick)/spacing) + 1
	return uint128.Max.Div64(numTicks)
}
