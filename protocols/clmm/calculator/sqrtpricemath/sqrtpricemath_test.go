package sqrtpricemath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/fullmath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

// --- Helper Functions ---

// newRandUint128 generates a random non-zero value of up to the given number of bits.
func newRandUint128(bits int) uint128.Uint128 {
	max := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic(err)
	}
	if n.Sign() == 0 {
		n.SetInt64(1)
	}
	return uint128.FromBig(n)
}

func fromString(s string) uint128.Uint128 {
	n, _ := new(big.Int).SetString(s, 10)
	return uint128.FromBig(n)
}

var (
	one        = uint128.New(0, 1)                  // price 1.0
	sqrtP5     = fromString("18451356105610190419") // tick 5
	sqrtPNeg5  = fromString("18442133194615141838") // tick -5
	sqrtP10    = fromString("18455969290605287889") // tick 10
	sqrtPNeg10 = fromString("18437523468038803493") // tick -10
	liquidity  = uint128.From64(1_000_000_000_000_000_000)
)

// --- Known Values ---

func TestGetAmountDeltas(t *testing.T) {
	testCases := []struct {
		name     string
		amount0  bool
		a, b     uint128.Uint128
		l        uint128.Uint128
		roundUp  bool
		expected uint64
	}{
		{"amount0 up", true, one, sqrtP5, liquidity, true, 249956256561354},
		{"amount0 down", true, one, sqrtP5, liquidity, false, 249956256561353},
		{"amount0 reversed bounds", true, sqrtP5, one, liquidity, false, 249956256561353},
		{"amount1 up", false, sqrtPNeg5, one, liquidity, true, 249956256561354},
		{"amount1 down", false, sqrtPNeg5, one, liquidity, false, 249956256561353},
		{"amount0 small range up", true, sqrtPNeg10, sqrtP10, uint128.From64(1_000_000), true, 1000},
		{"amount0 small range down", true, sqrtPNeg10, sqrtP10, uint128.From64(1_000_000), false, 999},
		{"amount1 small range up", false, sqrtPNeg10, sqrtP10, uint128.From64(1_000_000), true, 1000},
		{"amount1 small range down", false, sqrtPNeg10, sqrtP10, uint128.From64(1_000_000), false, 999},
		{"zero liquidity", true, sqrtPNeg10, sqrtP10, uint128.Zero, true, 0},
		{"equal prices", false, one, one, liquidity, true, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var (
				got uint64
				err error
			)
			if tc.amount0 {
				got, err = GetAmount0DeltaUint64(tc.a, tc.b, tc.l, tc.roundUp)
			} else {
				got, err = GetAmount1DeltaUint64(tc.a, tc.b, tc.l, tc.roundUp)
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}

	t.Run("amount0 zero price", func(t *testing.T) {
		_, err := GetAmount0Delta(uint128.Zero, one, liquidity, true)
		assert.ErrorIs(t, err, ErrSqrtPriceZero)
	})

	t.Run("amount too large for a token amount", func(t *testing.T) {
		_, err := GetAmount1DeltaUint64(one, uint128.New(0, 1<<20), uint128.Max, false)
		assert.ErrorIs(t, err, fullmath.ErrOverflow)
	})
}

func TestGetNextSqrtPrice(t *testing.T) {
	amount := uint64(1_000_000_000_000_000)

	t.Run("token0 in lowers price, rounded up", func(t *testing.T) {
		next, err := GetNextSqrtPriceFromInput(one, liquidity, amount, true)
		require.NoError(t, err)
		assert.Equal(t, "18428315757951600016", next.String())
	})

	t.Run("token1 in raises price, rounded down", func(t *testing.T) {
		next, err := GetNextSqrtPriceFromInput(one, liquidity, amount, false)
		require.NoError(t, err)
		assert.Equal(t, "18465190817783261167", next.String())
	})

	t.Run("token1 out lowers price", func(t *testing.T) {
		next, err := GetNextSqrtPriceFromOutput(one, liquidity, amount, true)
		require.NoError(t, err)
		assert.Equal(t, "18428297329635842064", next.String())
	})

	t.Run("token0 out raises price", func(t *testing.T) {
		next, err := GetNextSqrtPriceFromOutput(one, liquidity, amount, false)
		require.NoError(t, err)
		assert.Equal(t, "18465209282992544161", next.String())
	})

	t.Run("zero amount keeps price", func(t *testing.T) {
		next, err := GetNextSqrtPriceFromAmount0RoundingUp(one, liquidity, 0, true)
		require.NoError(t, err)
		assert.True(t, next.Equals(one))
	})

	t.Run("zero liquidity", func(t *testing.T) {
		_, err := GetNextSqrtPriceFromInput(one, uint128.Zero, amount, true)
		assert.ErrorIs(t, err, ErrLiquidityZero)
	})

	t.Run("zero price", func(t *testing.T) {
		_, err := GetNextSqrtPriceFromOutput(uint128.Zero, liquidity, amount, true)
		assert.ErrorIs(t, err, ErrSqrtPriceZero)
	})

	t.Run("output exceeding token1 reserves", func(t *testing.T) {
		// reserves of token1 at price 1 with L=1 are 1 unit
		_, err := GetNextSqrtPriceFromOutput(one, uint128.From64(1), 2, true)
		assert.ErrorIs(t, err, ErrPriceOverflow)
	})

	t.Run("output exceeding token0 reserves", func(t *testing.T) {
		_, err := GetNextSqrtPriceFromOutput(one, uint128.From64(1), 2, false)
		assert.ErrorIs(t, err, ErrPriceOverflow)
	})
}

// --- Invariant Tests (Simulating Fuzzing) ---

func TestGetAmount0Delta_Invariants(t *testing.T) {
	for i := 0; i < 1000; i++ {
		sqrtP := newRandUint128(96)
		sqrtQ := newRandUint128(96)
		l := newRandUint128(128)

		amount0Down, err := GetAmount0Delta(sqrtP, sqrtQ, l, false)
		require.NoError(t, err)
		amount0Up, err := GetAmount0Delta(sqrtP, sqrtQ, l, true)
		require.NoError(t, err)

		// amount0Down <= amount0Up < amount0Down + 2
		assert.True(t, amount0Down.Cmp(amount0Up) <= 0)
		diff := new(big.Int).Sub(amount0Up.ToBig(), amount0Down.ToBig())
		assert.True(t, diff.Cmp(big.NewInt(2)) < 0)
	}
}

func TestGetAmount1Delta_Invariants(t *testing.T) {
	for i := 0; i < 1000; i++ {
		sqrtP := newRandUint128(96)
		sqrtQ := newRandUint128(96)
		l := newRandUint128(128)

		amount1Down, err := GetAmount1Delta(sqrtP, sqrtQ, l, false)
		require.NoError(t, err)
		amount1Up, err := GetAmount1Delta(sqrtP, sqrtQ, l, true)
		require.NoError(t, err)

		assert.True(t, amount1Down.Cmp(amount1Up) <= 0)
		diff := new(big.Int).Sub(amount1Up.ToBig(), amount1Down.ToBig())
		assert.True(t, diff.Cmp(big.NewInt(2)) < 0)
	}
}

func TestGetNextSqrtPriceFromInput_Invariants(t *testing.T) {
	for i := 0; i < 1000; i++ {
		sqrtP := newRandUint128(96)
		l := newRandUint128(100)
		amountIn := newRandUint128(64).Lo
		zeroForOne := i%2 == 0

		next, err := GetNextSqrtPriceFromInput(sqrtP, l, amountIn, zeroForOne)
		if err != nil {
			// only a price pushed past 128 bits may fail
			assert.ErrorIs(t, err, ErrPriceOverflow)
			continue
		}

		if zeroForOne {
			assert.True(t, next.Cmp(sqrtP) <= 0)
			// the input pays for the whole move
			need, err := GetAmount0Delta(next, sqrtP, l, true)
			require.NoError(t, err)
			assert.True(t, need.Cmp(fullmath.U256(uint128.From64(amountIn))) <= 0)
		} else {
			assert.True(t, next.Cmp(sqrtP) >= 0)
			need, err := GetAmount1Delta(sqrtP, next, l, true)
			require.NoError(t, err)
			assert.True(t, need.Cmp(fullmath.U256(uint128.From64(amountIn))) <= 0)
		}
	}
}
