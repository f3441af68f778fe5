package fullmath

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func TestMulDiv(t *testing.T) {
	maxU256 := new(uint256.Int).SetAllOne()

	testCases := []struct {
		name      string
		a, b, d   *uint256.Int
		wantFloor *uint256.Int
		wantCeil  *uint256.Int
		err       error
	}{
		{"exact", uint256.NewInt(6), uint256.NewInt(4), uint256.NewInt(3), uint256.NewInt(8), uint256.NewInt(8), nil},
		{"rounds", uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2), uint256.NewInt(10), uint256.NewInt(11), nil},
		// (2^256-1)^2 / (2^256-1) needs the 512-bit intermediate
		{"wide intermediate", maxU256, maxU256, maxU256, maxU256, maxU256, nil},
		{"result overflow", maxU256, maxU256, uint256.NewInt(2), nil, nil, ErrOverflow},
		{"division by zero", uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0), nil, nil, ErrDivisionByZero},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			floor, err := MulDivFloor(new(uint256.Int), tc.a, tc.b, tc.d)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
				assert.True(t, floor.Eq(tc.wantFloor), "floor: got %s want %s", floor.Dec(), tc.wantFloor.Dec())
			}

			ceil, err := MulDivCeil(new(uint256.Int), tc.a, tc.b, tc.d)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
				assert.True(t, ceil.Eq(tc.wantCeil), "ceil: got %s want %s", ceil.Dec(), tc.wantCeil.Dec())
			}
		})
	}

	t.Run("ceil of an overflowing quotient", func(t *testing.T) {
		_, err := MulDivCeil(new(uint256.Int), maxU256, uint256.NewInt(3), uint256.NewInt(2))
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("aliasing destination", func(t *testing.T) {
		a := uint256.NewInt(7)
		_, err := MulDivCeil(a, a, uint256.NewInt(3), uint256.NewInt(2))
		require.NoError(t, err)
		assert.Equal(t, uint64(11), a.Uint64())
	})
}

func TestDivCeil(t *testing.T) {
	z, err := DivCeil(new(uint256.Int), uint256.NewInt(10), uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), z.Uint64())

	z, err = DivCeil(new(uint256.Int), uint256.NewInt(9), uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), z.Uint64())

	_, err = DivCeil(new(uint256.Int), uint256.NewInt(9), new(uint256.Int))
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestNarrowing(t *testing.T) {
	v := uint128.New(0xdeadbeef, 0x1234)
	back, err := ToUint128(U256(v))
	require.NoError(t, err)
	assert.True(t, back.Equals(v))

	_, err = ToUint128(new(uint256.Int).Lsh(uint256.NewInt(1), 128))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = ToUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 64))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulShr64(t *testing.T) {
	// growth of 1.5 (Q64.64) over liquidity 10 settles 15
	growth := uint128.From64(3).Lsh(63)
	owed, err := MulShr64(growth, uint128.From64(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(15), owed)

	_, err = MulShr64(uint128.Max, uint128.Max)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulDiv128(t *testing.T) {
	got, err := MulDivFloor128(uint128.From64(10), uint128.From64(10), uint128.From64(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(33), got.Lo)

	got, err = MulDivCeil128(uint128.From64(10), uint128.From64(10), uint128.From64(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(34), got.Lo)

	_, err = MulDivFloor128(uint128.Max, uint128.Max, uint128.From64(1))
	assert.ErrorIs(t, err, ErrOverflow)
}
