package clmm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func testGlobals(fee0, fee1 uint64, rewards ...uint64) GrowthGlobals {
	g := GrowthGlobals{
		FeeGrowthGlobal0X64: uint128.From64(fee0),
		FeeGrowthGlobal1X64: uint128.From64(fee1),
	}
	for i, r := range rewards {
		g.RewardGrowthsGlobalX64[i] = uint128.From64(r)
	}
	return g
}

func TestTickTable_Update(t *testing.T) {
	maxLiquidity := MaxLiquidityPerTick(1)
	globals := testGlobals(100, 200, 7)

	t.Run("initializing at or below the current tick snapshots the globals", func(t *testing.T) {
		table := make(TickTable)
		flipped, err := table.Update(-5, 0, big.NewInt(1000), globals, false, maxLiquidity)
		require.NoError(t, err)
		assert.True(t, flipped)

		info := table.Get(-5)
		require.NotNil(t, info)
		assert.Equal(t, uint128.From64(100), info.FeeGrowthOutside0X64)
		assert.Equal(t, uint128.From64(200), info.FeeGrowthOutside1X64)
		assert.Equal(t, uint128.From64(7), info.RewardGrowthsOutsideX64[0])
		assert.Equal(t, int64(1000), info.LiquidityNet.Int64())
		assert.Equal(t, uint64(1000), info.LiquidityGross.Lo)
	})

	t.Run("initializing above the current tick starts from zero", func(t *testing.T) {
		table := make(TickTable)
		flipped, err := table.Update(5, 0, big.NewInt(1000), globals, true, maxLiquidity)
		require.NoError(t, err)
		assert.True(t, flipped)

		info := table.Get(5)
		assert.True(t, info.FeeGrowthOutside0X64.IsZero())
		assert.True(t, info.FeeGrowthOutside1X64.IsZero())
		assert.Equal(t, int64(-1000), info.LiquidityNet.Int64())
	})

	t.Run("adding to an initialized tick does not flip or resnapshot", func(t *testing.T) {
		table := make(TickTable)
		_, err := table.Update(0, 0, big.NewInt(1000), globals, false, maxLiquidity)
		require.NoError(t, err)

		flipped, err := table.Update(0, 0, big.NewInt(500), testGlobals(999, 999), true, maxLiquidity)
		require.NoError(t, err)
		assert.False(t, flipped)

		info := table.Get(0)
		assert.Equal(t, uint128.From64(100), info.FeeGrowthOutside0X64)
		assert.Equal(t, uint64(1500), info.LiquidityGross.Lo)
		assert.Equal(t, int64(500), info.LiquidityNet.Int64())
	})

	t.Run("removing all liquidity flips back", func(t *testing.T) {
		table := make(TickTable)
		_, err := table.Update(0, 0, big.NewInt(1000), globals, false, maxLiquidity)
		require.NoError(t, err)

		flipped, err := table.Update(0, 0, big.NewInt(-1000), globals, false, maxLiquidity)
		require.NoError(t, err)
		assert.True(t, flipped)
		assert.True(t, table.Get(0).LiquidityGross.IsZero())
	})

	t.Run("gross above the per-tick maximum", func(t *testing.T) {
		table := make(TickTable)
		delta := new(big.Int).Add(maxLiquidity.Big(), big.NewInt(1))
		_, err := table.Update(0, 0, delta, globals, false, maxLiquidity)
		require.ErrorIs(t, err, ErrArithmeticOverflow)
		assert.Nil(t, table.Get(0))
	})

	t.Run("removing more than the tick holds", func(t *testing.T) {
		table := make(TickTable)
		_, err := table.Update(0, 0, big.NewInt(10), globals, false, maxLiquidity)
		require.NoError(t, err)

		_, err = table.Update(0, 0, big.NewInt(-11), globals, false, maxLiquidity)
		require.ErrorIs(t, err, ErrInvariantViolation)
		assert.Equal(t, uint64(10), table.Get(0).LiquidityGross.Lo, "failed update must not touch the table")
	})
}

func TestTickTable_Cross(t *testing.T) {
	table := make(TickTable)
	_, err := table.Update(10, 0, big.NewInt(1000), testGlobals(0, 0), false, MaxLiquidityPerTick(1))
	require.NoError(t, err)

	net, err := table.Cross(10, testGlobals(30, 40, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), net.Int64())

	info := table.Get(10)
	assert.Equal(t, uint128.From64(30), info.FeeGrowthOutside0X64)
	assert.Equal(t, uint128.From64(40), info.FeeGrowthOutside1X64)
	assert.Equal(t, uint128.From64(5), info.RewardGrowthsOutsideX64[0])

	// crossing back with more growth leaves only what accrued on the other side
	_, err = table.Cross(10, testGlobals(50, 40, 5))
	require.NoError(t, err)
	assert.Equal(t, uint128.From64(20), info.FeeGrowthOutside0X64)
	assert.True(t, info.FeeGrowthOutside1X64.IsZero())

	// the returned net is a copy
	net.SetInt64(0)
	assert.Equal(t, int64(1000), table.Get(10).LiquidityNet.Int64())

	_, err = table.Cross(20, testGlobals(0, 0))
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestTickTable_GetFeeGrowthInside(t *testing.T) {
	table := TickTable{
		-10: {Tick: -10, LiquidityNet: big.NewInt(1), LiquidityGross: uint128.From64(1), FeeGrowthOutside0X64: uint128.From64(20)},
		10:  {Tick: 10, LiquidityNet: big.NewInt(-1), LiquidityGross: uint128.From64(1), FeeGrowthOutside0X64: uint128.From64(30)},
	}
	global := uint128.From64(100)

	testCases := []struct {
		name    string
		current int32
		want    uint128.Uint128
	}{
		{name: "current below range", current: -20, want: uint128.Max.Sub64(9)},
		{name: "current inside range", current: 0, want: uint128.From64(50)},
		{name: "current at lower tick is inside", current: -10, want: uint128.From64(50)},
		{name: "current at upper tick is above", current: 10, want: uint128.From64(10)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inside0, inside1 := table.GetFeeGrowthInside(-10, 10, tc.current, global, uint128.Zero)
			assert.Equal(t, tc.want, inside0)
			assert.True(t, inside1.IsZero())
		})
	}

	t.Run("wrapped values still give exact deltas", func(t *testing.T) {
		before, _ := table.GetFeeGrowthInside(-10, 10, 0, uint128.From64(10), uint128.Zero)
		// 10 - 20 - 30 mod 2^128
		assert.Equal(t, uint128.Max.Sub64(39), before)

		after, _ := table.GetFeeGrowthInside(-10, 10, 0, uint128.From64(60), uint128.Zero)
		assert.Equal(t, uint128.From64(50), after.SubWrap(before))
	})
}

func TestTickTable_GetRewardGrowthsInside(t *testing.T) {
	table := TickTable{
		-10: {Tick: -10, LiquidityNet: big.NewInt(1), LiquidityGross: uint128.From64(1), RewardGrowthsOutsideX64: [RewardCount]uint128.Uint128{uint128.From64(5), uint128.From64(9)}},
	}
	var infos [RewardCount]RewardInfo
	infos[0] = RewardInfo{Initialized: true, RewardGrowthGlobalX64: uint128.From64(25)}
	infos[1] = RewardInfo{RewardGrowthGlobalX64: uint128.From64(25)}

	growths := table.GetRewardGrowthsInside(-10, 10, 0, infos)
	// the upper tick is not initialized; its outside value is zero
	assert.Equal(t, uint128.From64(20), growths[0])
	assert.True(t, growths[1].IsZero(), "uninitialized streams report zero")
	assert.True(t, growths[2].IsZero())
}

func TestTickTable_CloneAndIndexes(t *testing.T) {
	table := make(TickTable)
	for _, tick := range []int32{30, -20, 0} {
		_, err := table.Update(tick, 0, big.NewInt(5), testGlobals(0, 0), false, MaxLiquidityPerTick(1))
		require.NoError(t, err)
	}
	assert.Equal(t, []int32{-20, 0, 30}, table.Indexes())
	assert.Equal(t, int64(15), table.SumLiquidityNet().Int64())

	clone := table.Clone()
	clone.Get(0).LiquidityNet.SetInt64(99)
	clone.Clear(30)

	assert.Equal(t, int64(5), table.Get(0).LiquidityNet.Int64())
	assert.NotNil(t, table.Get(30))
}

func TestMaxLiquidityPerTick(t *testing.T) {
	// 887273 usable ticks at spacing 1
	assert.Equal(t, uint128.Max.Div64(887273), MaxLiquidityPerTick(1))
	assert.Equal(t, "383514844834609487117690504987493", MaxLiquidityPerTick(1).String())
	// spacing 60: -443580..443580
	assert.Equal(t, uint128.Max.Div64(14787), MaxLiquidityPerTick(60))
}
