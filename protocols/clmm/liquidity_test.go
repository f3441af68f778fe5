package clmm

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/tickmath"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

const testNow = 1_000

var (
	testMint0 = solana.PublicKey{1}
	testMint1 = solana.PublicKey{2}
	testOwner = solana.PublicKey{7}
)

// newTestState opens a pool at tick 0.
func newTestState(t *testing.T, spacing uint16) *PoolState {
	t.Helper()
	cfg := AmmConfig{TickSpacing: spacing, TradeFeeRate: 3000}
	s, err := NewPoolState(cfg, solana.PublicKey{9}, testMint0, testMint1, uint128.New(0, 1), testNow)
	require.NoError(t, err)
	return s
}

func openTestPosition(t *testing.T, s *PoolState, id byte, lower, upper int32) *Position {
	t.Helper()
	pos, err := s.OpenPosition(solana.PublicKey{id}, testOwner, lower, upper)
	require.NoError(t, err)
	return pos
}

func TestNewPoolState(t *testing.T) {
	s := newTestState(t, 10)
	assert.Equal(t, int32(0), s.Pool.TickCurrent)
	assert.Equal(t, uint64(testNow), s.Pool.OpenTime)
	assert.Equal(t, uint16(1), s.Pool.ObservationCardinality)
	assert.Equal(t, uint16(1), s.Pool.ObservationCardinalityNext)
	require.Len(t, s.Oracle.Observations, 1)
	assert.Equal(t, uint32(testNow), s.Oracle.Observations[0].BlockTimestamp)

	testCases := []struct {
		name         string
		cfg          AmmConfig
		mint0, mint1 solana.PublicKey
		sqrtPrice    uint128.Uint128
		wantErr      error
	}{
		{name: "zero spacing", cfg: AmmConfig{}, mint0: testMint0, mint1: testMint1, sqrtPrice: uint128.New(0, 1), wantErr: ErrInvalidTickSpacing},
		{name: "fee rate of 100%", cfg: AmmConfig{TickSpacing: 1, TradeFeeRate: FeeRateDenominator}, mint0: testMint0, mint1: testMint1, sqrtPrice: uint128.New(0, 1), wantErr: ErrInvalidFeeRate},
		{name: "mints out of order", cfg: AmmConfig{TickSpacing: 1}, mint0: testMint1, mint1: testMint0, sqrtPrice: uint128.New(0, 1), wantErr: ErrInvalidMintOrder},
		{name: "same mint", cfg: AmmConfig{TickSpacing: 1}, mint0: testMint0, mint1: testMint0, sqrtPrice: uint128.New(0, 1), wantErr: ErrInvalidMintOrder},
		{name: "zero price", cfg: AmmConfig{TickSpacing: 1}, mint0: testMint0, mint1: testMint1, sqrtPrice: uint128.Zero, wantErr: ErrTickOutOfRange},
		{name: "price at the maximum", cfg: AmmConfig{TickSpacing: 1}, mint0: testMint0, mint1: testMint1, sqrtPrice: tickmath.MaxSqrtPriceX64, wantErr: ErrTickOutOfRange},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPoolState(tc.cfg, solana.PublicKey{9}, tc.mint0, tc.mint1, tc.sqrtPrice, testNow)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPoolState_CheckTicks(t *testing.T) {
	s := newTestState(t, 10)

	testCases := []struct {
		name         string
		lower, upper int32
		wantErr      error
	}{
		{name: "valid", lower: -20, upper: 30},
		{name: "lower equals upper", lower: 10, upper: 10, wantErr: ErrInvalidTickOrdering},
		{name: "lower above upper", lower: 20, upper: 10, wantErr: ErrInvalidTickOrdering},
		{name: "lower misaligned", lower: -15, upper: 30, wantErr: ErrInvalidTickOrdering},
		{name: "upper misaligned", lower: -20, upper: 31, wantErr: ErrInvalidTickOrdering},
		{name: "lower below the minimum tick", lower: -443640, upper: 0, wantErr: ErrTickOutOfRange},
		{name: "upper above the maximum tick", lower: 0, upper: 443640, wantErr: ErrTickOutOfRange},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.OpenPosition(solana.PublicKey{byte(len(s.Positions) + 10)}, testOwner, tc.lower, tc.upper)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPoolState_ModifyPosition(t *testing.T) {
	testCases := []struct {
		name         string
		lower, upper int32
		deposit0     uint64
		deposit1     uint64
		withdraw0    uint64
		withdraw1    uint64
		active       bool
	}{
		{name: "range straddles the price", lower: -10, upper: 10, deposit0: 500, deposit1: 500, withdraw0: 499, withdraw1: 499, active: true},
		{name: "range above the price takes token0", lower: 10, upper: 20, deposit0: 500, withdraw0: 499},
		{name: "range below the price takes token1", lower: -20, upper: -10, deposit1: 500, withdraw1: 499},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestState(t, 1)
			pos := openTestPosition(t, s, 1, tc.lower, tc.upper)

			amount0, amount1, err := s.ModifyPosition(pos, big.NewInt(1_000_000), testNow)
			require.NoError(t, err)
			assert.Equal(t, tc.deposit0, amount0)
			assert.Equal(t, tc.deposit1, amount1)
			assert.Equal(t, uint64(1_000_000), pos.Liquidity.Lo)
			if tc.active {
				assert.Equal(t, uint64(1_000_000), s.Pool.Liquidity.Lo)
			} else {
				assert.True(t, s.Pool.Liquidity.IsZero())
			}
			assert.True(t, s.Bitmap.IsInitialized(tc.lower, 1))
			assert.True(t, s.Bitmap.IsInitialized(tc.upper, 1))
			require.NoError(t, s.CheckInvariants())

			// withdrawals round down, so the pool keeps the dust
			amount0, amount1, err = s.ModifyPosition(pos, big.NewInt(-1_000_000), testNow)
			require.NoError(t, err)
			assert.Equal(t, tc.withdraw0, amount0)
			assert.Equal(t, tc.withdraw1, amount1)

			assert.True(t, pos.Liquidity.IsZero())
			assert.True(t, s.Pool.Liquidity.IsZero())
			assert.Empty(t, s.Ticks)
			assert.Empty(t, s.Bitmap)
			require.NoError(t, s.CheckInvariants())
		})
	}
}

func TestPoolState_ModifyPosition_Errors(t *testing.T) {
	t.Run("removing more than the position holds", func(t *testing.T) {
		s := newTestState(t, 1)
		pos := openTestPosition(t, s, 1, -10, 10)
		_, _, err := s.ModifyPosition(pos, big.NewInt(100), testNow)
		require.NoError(t, err)

		_, _, err = s.ModifyPosition(pos, big.NewInt(-101), testNow)
		require.ErrorIs(t, err, ErrInsufficientLiquidity)
	})

	t.Run("settling a position with no liquidity", func(t *testing.T) {
		s := newTestState(t, 1)
		pos := openTestPosition(t, s, 1, -10, 10)
		_, _, err := s.ModifyPosition(pos, big.NewInt(0), testNow)
		require.ErrorIs(t, err, ErrInsufficientLiquidity)
	})

	t.Run("more than a tick can hold", func(t *testing.T) {
		s := newTestState(t, 1)
		pos := openTestPosition(t, s, 1, -10, 10)
		delta := new(big.Int).Add(MaxLiquidityPerTick(1).Big(), big.NewInt(1))
		_, _, err := s.ModifyPosition(pos, delta, testNow)
		require.ErrorIs(t, err, ErrArithmeticOverflow)
	})

	t.Run("position with a bad range", func(t *testing.T) {
		s := newTestState(t, 10)
		pos := &Position{TickLower: 5, TickUpper: 20}
		_, _, err := s.ModifyPosition(pos, big.NewInt(1), testNow)
		require.ErrorIs(t, err, ErrInvalidTickOrdering)
	})
}

func TestPoolState_SharedTicks(t *testing.T) {
	s := newTestState(t, 1)
	a := openTestPosition(t, s, 1, -10, 10)
	b := openTestPosition(t, s, 2, 10, 20)

	_, _, err := s.ModifyPosition(a, big.NewInt(1_000), testNow)
	require.NoError(t, err)
	_, _, err = s.ModifyPosition(b, big.NewInt(3_000), testNow)
	require.NoError(t, err)

	shared := s.Ticks.Get(10)
	require.NotNil(t, shared)
	assert.Equal(t, uint64(4_000), shared.LiquidityGross.Lo)
	assert.Equal(t, int64(2_000), shared.LiquidityNet.Int64())

	// removing one side keeps the shared tick initialized
	_, _, err = s.ModifyPosition(a, big.NewInt(-1_000), testNow)
	require.NoError(t, err)
	assert.NotNil(t, s.Ticks.Get(10))
	assert.Nil(t, s.Ticks.Get(-10))
	assert.True(t, s.Bitmap.IsInitialized(10, 1))
	assert.False(t, s.Bitmap.IsInitialized(-10, 1))
	require.NoError(t, s.CheckInvariants())
}

func TestPoolState_LiquidityNetSumsToZero(t *testing.T) {
	s := newTestState(t, 10)

	var positions []*Position
	for i := 0; i < 8; i++ {
		lower := randTick(t, 100) * 10
		upper := lower + (randTick(t, 20)+21)*10
		positions = append(positions, openTestPosition(t, s, byte(i+1), lower, upper))
	}

	for i := 0; i < 300; i++ {
		pos := positions[randTick(t, 4)+4]
		delta := big.NewInt(int64(randTick(t, 2_000_000)) - 1_000_000)
		if delta.Sign() < 0 && new(big.Int).Neg(delta).Cmp(pos.Liquidity.Big()) > 0 {
			delta.Neg(pos.Liquidity.Big())
		}
		if delta.Sign() == 0 {
			continue
		}

		_, _, err := s.ModifyPosition(pos, delta, testNow)
		require.NoError(t, err)
		require.Zero(t, s.Ticks.SumLiquidityNet().Sign(), "after op %d", i)
		require.NoError(t, s.CheckInvariants())
	}
}

// randTick returns a uniform value in [-n, n).
func randTick(t *testing.T, n int64) int32 {
	t.Helper()
	v, err := rand.Int(rand.Reader, big.NewInt(2*n))
	require.NoError(t, err)
	return int32(v.Int64() - n)
}

func TestPoolState_FeesSettleOnlyInsideTheRange(t *testing.T) {
	s := newTestState(t, 1)
	inRange := openTestPosition(t, s, 1, -10, 10)
	above := openTestPosition(t, s, 2, 10, 20)

	_, _, err := s.ModifyPosition(inRange, big.NewInt(1_000_000), testNow)
	require.NoError(t, err)
	_, _, err = s.ModifyPosition(above, big.NewInt(1_000_000), testNow)
	require.NoError(t, err)

	// a fee of 2 token1 earned at tick 0
	require.NoError(t, s.Pool.AccrueFeeGrowth(2, false))

	for _, pos := range []*Position{inRange, above} {
		_, _, err := s.ModifyPosition(pos, big.NewInt(0), testNow)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(1), inRange.TokenFeesOwed1)
	assert.Zero(t, above.TokenFeesOwed1)

	// repeated settlement never goes backwards
	last := inRange.FeeGrowthInside1LastX64
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Pool.AccrueFeeGrowth(7, false))
		_, _, err := s.ModifyPosition(inRange, big.NewInt(0), testNow)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, inRange.FeeGrowthInside1LastX64.Cmp(last), 0)
		last = inRange.FeeGrowthInside1LastX64
	}
}

func TestPoolState_RewardsAccrueToActivePositions(t *testing.T) {
	s := newTestState(t, 1)
	require.NoError(t, s.Pool.SetRewardEmission(0, solana.PublicKey{42}, uint128.New(0, 1), testNow+10, testNow+110, testNow))

	pos := openTestPosition(t, s, 1, -10, 10)
	_, _, err := s.ModifyPosition(pos, big.NewInt(1_000), testNow)
	require.NoError(t, err)

	// 50 seconds at one token per second, all of it to the only position
	_, _, err = s.ModifyPosition(pos, big.NewInt(0), testNow+60)
	require.NoError(t, err)
	assert.Equal(t, uint64(49), pos.RewardInfos[0].RewardAmountOwed)
	assert.Equal(t, uint64(50), s.Pool.RewardInfos[0].RewardTotalEmissioned)
}

func TestPoolState_LiquidityForAmounts(t *testing.T) {
	s := newTestState(t, 1)
	liquidity, err := s.LiquidityForAmounts(-10, 10, 500, 500)
	require.NoError(t, err)
	assert.Equal(t, uint128.From64(1_000_300), liquidity)

	pos := openTestPosition(t, s, 1, -10, 10)
	amount0, amount1, err := s.ModifyPosition(pos, liquidity.Big(), testNow)
	require.NoError(t, err)
	assert.LessOrEqual(t, amount0, uint64(500))
	assert.LessOrEqual(t, amount1, uint64(500))

	_, err = s.LiquidityForAmounts(10, -10, 500, 500)
	require.ErrorIs(t, err, ErrInvalidTickOrdering)
}

func TestPoolState_ClosePosition(t *testing.T) {
	s := newTestState(t, 1)
	pos := openTestPosition(t, s, 1, -10, 10)
	_, _, err := s.ModifyPosition(pos, big.NewInt(1_000_000), testNow)
	require.NoError(t, err)

	require.ErrorIs(t, s.ClosePosition(pos.ID), ErrPositionNotEmpty)

	_, _, err = s.ModifyPosition(pos, big.NewInt(-1_000_000), testNow)
	require.NoError(t, err)
	require.NoError(t, s.ClosePosition(pos.ID))

	_, err = s.Position(pos.ID)
	require.ErrorIs(t, err, ErrPositionNotFound)
	require.ErrorIs(t, s.ClosePosition(pos.ID), ErrPositionNotFound)
}

func TestPoolState_Clone(t *testing.T) {
	s := newTestState(t, 1)
	pos := openTestPosition(t, s, 1, -10, 10)
	_, _, err := s.ModifyPosition(pos, big.NewInt(1_000_000), testNow)
	require.NoError(t, err)

	c := s.Clone()
	assert.Equal(t, s, c)

	cp, err := c.Position(pos.ID)
	require.NoError(t, err)
	_, _, err = c.ModifyPosition(cp, big.NewInt(-1_000_000), testNow+5)
	require.NoError(t, err)
	_, err = c.GrowOracle(4)
	require.NoError(t, err)

	assert.Equal(t, uint64(1_000_000), pos.Liquidity.Lo)
	assert.Equal(t, uint64(1_000_000), s.Pool.Liquidity.Lo)
	assert.Len(t, s.Ticks, 2)
	assert.Len(t, s.Bitmap, 2)
	assert.Len(t, s.Oracle.Observations, 1)
	require.NoError(t, s.CheckInvariants())
}

func TestPoolState_DepositWritesOracle(t *testing.T) {
	s := newTestState(t, 1)
	_, err := s.GrowOracle(4)
	require.NoError(t, err)

	// an out-of-range deposit leaves the oracle alone
	below := openTestPosition(t, s, 1, 10, 20)
	_, _, err = s.ModifyPosition(below, big.NewInt(1_000), testNow+10)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), s.Pool.ObservationIndex)

	inRange := openTestPosition(t, s, 2, -10, 10)
	_, _, err = s.ModifyPosition(inRange, big.NewInt(1_000), testNow+20)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), s.Pool.ObservationIndex)
	assert.Equal(t, uint16(4), s.Pool.ObservationCardinality)

	obs := s.Oracle.Observations[1]
	assert.Equal(t, uint32(testNow+20), obs.BlockTimestamp)
	// twenty seconds with no liquidity count as liquidity one
	assert.Equal(t, uint128.New(0, 20), obs.SecondsPerLiquidityCumulativeX64)

	cumulatives, _, err := s.Observe(testNow+30, []uint32{30, 0})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, cumulatives)
}
