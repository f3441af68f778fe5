package clmm

import (
	"bytes"
	"fmt"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/tickbitmap"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/tickmath"
	"github.com/defistate/defistate-clmm/protocols/clmm/oracle"
	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

// PoolState is everything one pool owns: the pool record, its initialized ticks, the bitmap
// indexing them, its positions and its observation buffer.
type PoolState struct {
	Pool      Pool
	Ticks     TickTable
	Bitmap    tickbitmap.Bitmap
	Positions map[solana.PublicKey]*Position
	Oracle    *oracle.Oracle
}

// NewPoolState opens a pool at sqrtPriceX64 with a single oracle observation taken at now.
func NewPoolState(
	cfg AmmConfig,
	id, mint0, mint1 solana.PublicKey,
	sqrtPriceX64 uint128.Uint128,
	now uint64,
) (*PoolState, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bytes.Compare(mint0[:], mint1[:]) >= 0 {
		return nil, fmt.Errorf("%w: %s, %s", ErrInvalidMintOrder, mint0, mint1)
	}
	tick, err := tickmath.GetTickAtSqrtPrice(sqrtPriceX64)
	if err != nil {
		return nil, fmt.Errorf("%w: initial price: %w", ErrTickOutOfRange, err)
	}

	s := &PoolState{
		Pool: Pool{
			ID:              id,
			AmmConfig:       cfg.Index,
			TokenMint0:      mint0,
			TokenMint1:      mint1,
			TickSpacing:     cfg.TickSpacing,
			TradeFeeRate:    cfg.TradeFeeRate,
			ProtocolFeeRate: cfg.ProtocolFeeRate,
			SqrtPriceX64:    sqrtPriceX64,
			TickCurrent:     tick,
			OpenTime:        now,
		},
		Ticks:     make(TickTable),
		Bitmap:    make(tickbitmap.Bitmap),
		Positions: make(map[solana.PublicKey]*Position),
		Oracle:    &oracle.Oracle{},
	}
	s.Pool.ObservationCardinality, s.Pool.ObservationCardinalityNext = s.Oracle.Initialize(uint32(now))
	return s, nil
}

// Clone returns a deep copy that shares no memory with s.
func (s *PoolState) Clone() *PoolState {
	positions := make(map[solana.PublicKey]*Position, len(s.Positions))
	for id, p := range s.Positions {
		c := *p
		positions[id] = &c
	}
	return &PoolState{
		Pool:      s.Pool,
		Ticks:     s.Ticks.Clone(),
		Bitmap:    s.Bitmap.Clone(),
		Positions: positions,
		Oracle:    s.Oracle.Clone(),
	}
}

// Position returns a position of this pool.
func (s *PoolState) Position(id solana.PublicKey) (*Position, error) {
	p, ok := s.Positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return p, nil
}

// OpenPosition registers an empty position over [tickLower, tickUpper).
func (s *PoolState) OpenPosition(id, owner solana.PublicKey, tickLower, tickUpper int32) (*Position, error) {
	if err := s.checkTicks(tickLower, tickUpper); err != nil {
		return nil, err
	}
	if _, ok := s.Positions[id]; ok {
		return nil, fmt.Errorf("%w: position %s already exists", ErrInvariantViolation, id)
	}
	p := &Position{
		ID:        id,
		PoolID:    s.Pool.ID,
		Owner:     owner,
		TickLower: tickLower,
		TickUpper: tickUpper,
	}
	s.Positions[id] = p
	return p, nil
}

// GrowOracle raises the number of observation slots the pool will rotate through.
func (s *PoolState) GrowOracle(next uint16) (uint16, error) {
	grown, err := s.Oracle.Grow(s.Pool.ObservationCardinalityNext, next)
	if err != nil {
		return 0, err
	}
	s.Pool.ObservationCardinalityNext = grown
	return grown, nil
}

// WriteObservation records the tick and liquidity in force since the last observation.
func (s *PoolState) WriteObservation(now uint64, tick int32, liquidity uint128.Uint128) {
	s.Pool.ObservationIndex, s.Pool.ObservationCardinality = s.Oracle.Write(
		s.Pool.ObservationIndex,
		uint32(now),
		tick,
		liquidity,
		s.Pool.ObservationCardinality,
		s.Pool.ObservationCardinalityNext,
	)
}

// Observe returns cumulative values as of each secondsAgo before now.
func (s *PoolState) Observe(now uint64, secondsAgos []uint32) ([]int64, []uint128.Uint128, error) {
	return s.Oracle.Observe(
		uint32(now),
		secondsAgos,
		s.Pool.TickCurrent,
		s.Pool.ObservationIndex,
		s.Pool.Liquidity,
		s.Pool.ObservationCardinality,
	)
}

// TWAP returns the time-weighted average tick over the last window seconds.
func (s *PoolState) TWAP(now uint64, window uint32) (int32, error) {
	return s.Oracle.ConsultTWAP(
		uint32(now),
		window,
		s.Pool.TickCurrent,
		s.Pool.ObservationIndex,
		s.Pool.Liquidity,
		s.Pool.ObservationCardinality,
	)
}

// CheckInvariants verifies the cross-record invariants that must hold after every operation.
func (s *PoolState) CheckInvariants() error {
	if sum := s.Ticks.SumLiquidityNet(); sum.Sign() != 0 {
		return fmt.Errorf("%w: liquidity net sums to %s", ErrInvariantViolation, sum)
	}

	for tick, info := range s.Ticks {
		if info.LiquidityGross.IsZero() {
			return fmt.Errorf("%w: tick %d has no gross liquidity", ErrInvariantViolation, tick)
		}
		if !s.Bitmap.IsInitialized(tick, s.Pool.TickSpacing) {
			return fmt.Errorf("%w: tick %d missing from bitmap", ErrInvariantViolation, tick)
		}
	}
	var bits int
	for _, w := range s.Bitmap {
		bits += w.Count()
	}
	if bits != len(s.Ticks) {
		return fmt.Errorf("%w: bitmap has %d ticks, table has %d", ErrInvariantViolation, bits, len(s.Ticks))
	}

	// active liquidity is the sum of positions straddling the current tick
	active := uint128.Zero
	for _, p := range s.Positions {
		if p.TickLower <= s.Pool.TickCurrent && s.Pool.TickCurrent < p.TickUpper {
			active = active.AddWrap(p.Liquidity)
		}
	}
	if !active.Equals(s.Pool.Liquidity) {
		return fmt.Errorf("%w: active liquidity %s, positions in range hold %s", ErrInvariantViolation, s.Pool.Liquidity, active)
	}
	return nil
}
