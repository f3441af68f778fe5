package store

import (
	"math/big"

	"github.com/defistate/defistate-clmm/protocols/clmm"
	bin "github.com/gagliardetto/binary"
	"lukechampine.com/uint128"
)

// tickRecord is the persisted form of a tick. LiquidityNet is kept as a two's complement int128.
type tickRecord struct {
	Tick                    int32
	LiquidityNet            uint128.Uint128
	LiquidityGross          uint128.Uint128
	FeeGrowthOutside0X64    uint128.Uint128
	FeeGrowthOutside1X64    uint128.Uint128
	RewardGrowthsOutsideX64 [clmm.RewardCount]uint128.Uint128
}

func toInt128(v *big.Int) uint128.Uint128 {
	abs := uint128.FromBig(new(big.Int).Abs(v))
	if v.Sign() < 0 {
		return uint128.Zero.SubWrap(abs)
	}
	return abs
}

func fromInt128(v uint128.Uint128) *big.Int {
	if v.Hi>>63 == 1 {
		return new(big.Int).Neg(uint128.Zero.SubWrap(v).Big())
	}
	return v.Big()
}

func encodeTick(t *clmm.TickState) ([]byte, error) {
	return bin.MarshalBorsh(tickRecord{
		Tick:                    t.Tick,
		LiquidityNet:            toInt128(t.LiquidityNet),
		LiquidityGross:          t.LiquidityGross,
		FeeGrowthOutside0X64:    t.FeeGrowthOutside0X64,
		FeeGrowthOutside1X64:    t.FeeGrowthOutside1X64,
		RewardGrowthsOutsideX64: t.RewardGrowthsOutsideX64,
	})
}

func decodeTick(data []byte) (*clmm.TickState, error) {
	var r tickRecord
	if err := bin.UnmarshalBorsh(&r, data); err != nil {
		return nil, err
	}
	return &clmm.TickState{
		Tick:                    r.Tick,
		LiquidityNet:            fromInt128(r.LiquidityNet),
		LiquidityGross:          r.LiquidityGross,
		FeeGrowthOutside0X64:    r.FeeGrowthOutside0X64,
		FeeGrowthOutside1X64:    r.FeeGrowthOutside1X64,
		RewardGrowthsOutsideX64: r.RewardGrowthsOutsideX64,
	}, nil
}

// decode unmarshals a Borsh record into v.
func decode[T any](data []byte) (*T, error) {
	v := new(T)
	if err := bin.UnmarshalBorsh(v, data); err != nil {
		return nil, err
	}
	return v, nil
}
