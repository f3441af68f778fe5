package clmm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func TestPool_SplitFee(t *testing.T) {
	testCases := []struct {
		name         string
		protocolRate uint32
		fee          uint64
		wantProtocol uint64
		wantLP       uint64
	}{
		{name: "no protocol share", protocolRate: 0, fee: 3000, wantProtocol: 0, wantLP: 3000},
		{name: "twelve percent", protocolRate: 120_000, fee: 3000, wantProtocol: 360, wantLP: 2640},
		{name: "rounds the protocol share down", protocolRate: 120_000, fee: 1505, wantProtocol: 180, wantLP: 1325},
		{name: "all to protocol", protocolRate: FeeRateDenominator, fee: 77, wantProtocol: 77, wantLP: 0},
		{name: "full width fee", protocolRate: 500_000, fee: math.MaxUint64, wantProtocol: math.MaxUint64 / 2, wantLP: math.MaxUint64/2 + 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := Pool{ProtocolFeeRate: tc.protocolRate}
			protocol, lp := p.SplitFee(tc.fee)
			assert.Equal(t, tc.wantProtocol, protocol)
			assert.Equal(t, tc.wantLP, lp)
		})
	}
}

func TestPool_AccrueFeeGrowth(t *testing.T) {
	p := Pool{Liquidity: uint128.From64(1_000_000)}

	require.NoError(t, p.AccrueFeeGrowth(2, false))
	assert.True(t, p.FeeGrowthGlobal0X64.IsZero())
	assert.Equal(t, uint128.From64(36893488147419), p.FeeGrowthGlobal1X64)

	require.NoError(t, p.AccrueFeeGrowth(2640, true))
	assert.Equal(t, uint128.From64(2640*18446744073709551616/1_000_000), p.FeeGrowthGlobal0X64)

	// no liquidity, nothing to accrue to
	empty := Pool{}
	require.NoError(t, empty.AccrueFeeGrowth(100, true))
	assert.True(t, empty.FeeGrowthGlobal0X64.IsZero())

	// growth wraps
	wrap := Pool{Liquidity: uint128.From64(1), FeeGrowthGlobal0X64: uint128.Max}
	require.NoError(t, wrap.AccrueFeeGrowth(1, true))
	assert.Equal(t, uint128.From64(math.MaxUint64), wrap.FeeGrowthGlobal0X64)
}

func TestPosition_Settle(t *testing.T) {
	t.Run("credits growth times liquidity", func(t *testing.T) {
		p := Position{Liquidity: uint128.From64(1_000_000)}
		var rewards [RewardCount]uint128.Uint128
		rewards[1] = uint128.New(0, 3) // 3.0 per unit

		require.NoError(t, p.Settle(uint128.From64(36893488147419), uint128.New(0, 2), rewards))
		assert.Equal(t, uint64(1), p.TokenFeesOwed0)
		assert.Equal(t, uint64(2_000_000), p.TokenFeesOwed1)
		assert.Equal(t, uint64(3_000_000), p.RewardInfos[1].RewardAmountOwed)
		assert.Equal(t, rewards[1], p.RewardInfos[1].GrowthInsideLastX64)

		// settling again at the same growth adds nothing
		require.NoError(t, p.Settle(uint128.From64(36893488147419), uint128.New(0, 2), rewards))
		assert.Equal(t, uint64(1), p.TokenFeesOwed0)
		assert.Equal(t, uint64(2_000_000), p.TokenFeesOwed1)
	})

	t.Run("wrapped growth still settles the true delta", func(t *testing.T) {
		p := Position{
			Liquidity:               uint128.From64(5),
			FeeGrowthInside0LastX64: uint128.Max,
		}
		// Max -> 2^64-1 is a forward move of exactly 2^64
		require.NoError(t, p.Settle(uint128.From64(math.MaxUint64), uint128.Zero, [RewardCount]uint128.Uint128{}))
		assert.Equal(t, uint64(5), p.TokenFeesOwed0)
	})

	t.Run("owed amount overflows", func(t *testing.T) {
		p := Position{Liquidity: uint128.From64(1), TokenFeesOwed0: math.MaxUint64}
		err := p.Settle(uint128.New(0, 1), uint128.Zero, [RewardCount]uint128.Uint128{})
		require.ErrorIs(t, err, ErrArithmeticOverflow)
		assert.Equal(t, uint64(math.MaxUint64), p.TokenFeesOwed0)
		assert.True(t, p.FeeGrowthInside0LastX64.IsZero(), "failed settlement must not move the checkpoint")
	})
}

func TestCollect(t *testing.T) {
	p := Position{TokenFeesOwed0: 100, TokenFeesOwed1: 50}

	a0, a1 := p.CollectFees(30, 0)
	assert.Equal(t, uint64(30), a0)
	assert.Equal(t, uint64(50), a1, "zero collects everything")
	assert.Equal(t, uint64(70), p.TokenFeesOwed0)
	assert.Zero(t, p.TokenFeesOwed1)

	a0, _ = p.CollectFees(1000, 0)
	assert.Equal(t, uint64(70), a0, "requests are capped at what is owed")
	assert.Zero(t, p.TokenFeesOwed0)

	pool := Pool{ProtocolFeesToken0: 9, ProtocolFeesToken1: 4}
	a0, a1 = pool.CollectProtocolFee(0, 3)
	assert.Equal(t, uint64(9), a0)
	assert.Equal(t, uint64(3), a1)
	assert.Zero(t, pool.ProtocolFeesToken0)
	assert.Equal(t, uint64(1), pool.ProtocolFeesToken1)
}

func TestPool_SetProtocolFeeRate(t *testing.T) {
	p := Pool{}
	require.NoError(t, p.SetProtocolFeeRate(250_000))
	assert.Equal(t, uint32(250_000), p.ProtocolFeeRate)

	require.ErrorIs(t, p.SetProtocolFeeRate(FeeRateDenominator+1), ErrInvalidFeeRate)
	assert.Equal(t, uint32(250_000), p.ProtocolFeeRate)
}
