package engine

import (
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator"
	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

type InitializePoolParams struct {
	AmmConfig    uint16
	TokenMint0   solana.PublicKey
	TokenMint1   solana.PublicKey
	SqrtPriceX64 uint128.Uint128
}

// AddLiquidityParams deposits Liquidity into the position minted as PositionMint, opening it over
// [TickLower, TickUpper) when it does not exist yet.
type AddLiquidityParams struct {
	Pool         solana.PublicKey
	Owner        solana.PublicKey
	PositionMint solana.PublicKey
	TickLower    int32
	TickUpper    int32
	Liquidity    uint128.Uint128
	// Amount0Max and Amount1Max bound what the deposit may take.
	Amount0Max uint64
	Amount1Max uint64
}

// AddLiquidityFromAmountsParams deposits the most liquidity the desired amounts can fund.
type AddLiquidityFromAmountsParams struct {
	Pool           solana.PublicKey
	Owner          solana.PublicKey
	PositionMint   solana.PublicKey
	TickLower      int32
	TickUpper      int32
	Amount0Desired uint64
	Amount1Desired uint64
	Amount0Min     uint64
	Amount1Min     uint64
}

type RemoveLiquidityParams struct {
	Pool       solana.PublicKey
	Position   solana.PublicKey
	Liquidity  uint128.Uint128
	Amount0Min uint64
	Amount1Min uint64
}

// LiquidityResult is the outcome of a deposit or withdrawal.
type LiquidityResult struct {
	Position  solana.PublicKey
	Liquidity uint128.Uint128
	Amount0   uint64
	Amount1   uint64
}

// CollectFeesParams requests owed fees; a zero amount collects everything owed.
type CollectFeesParams struct {
	Pool             solana.PublicKey
	Position         solana.PublicKey
	Amount0Requested uint64
	Amount1Requested uint64
}

// CollectRewardsParams requests owed rewards of one stream; a zero amount collects everything owed.
type CollectRewardsParams struct {
	Pool            solana.PublicKey
	Position        solana.PublicKey
	RewardIndex     int
	AmountRequested uint64
}

type SwapParams struct {
	Pool solana.PublicKey
	calculator.SwapParams
}

type SetRewardEmissionParams struct {
	Pool                  solana.PublicKey
	RewardIndex           int
	TokenMint             solana.PublicKey
	EmissionsPerSecondX64 uint128.Uint128
	OpenTime              uint64
	EndTime               uint64
}
