package clmm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/tickbitmap"
	"github.com/defistate/defistate-clmm/protocols/clmm/oracle"
	"github.com/gagliardetto/solana-go"
)

// Patcher builds the next version of a pool by applying diff to prev. prev is not mutated; a nil
// prev is allowed when the diff carries the pool record.
func Patcher(prev *PoolState, diff PoolStateDiff) (*PoolState, error) {
	var next *PoolState
	switch {
	case prev != nil:
		next = prev.Clone()
	case diff.Pool != nil:
		next = &PoolState{
			Ticks:     make(TickTable),
			Bitmap:    make(tickbitmap.Bitmap),
			Positions: make(map[solana.PublicKey]*Position),
			Oracle:    &oracle.Oracle{},
		}
	default:
		return nil, errors.New("patcher: no previous state and no pool record in diff")
	}

	if diff.Pool != nil {
		next.Pool = *diff.Pool
	}

	for _, tick := range diff.TickDeletions {
		delete(next.Ticks, tick)
	}
	for _, info := range diff.TickUpdates {
		c := *info
		c.LiquidityNet = new(big.Int).Set(info.LiquidityNet)
		next.Ticks[info.Tick] = &c
	}

	for _, i := range diff.WordDeletions {
		delete(next.Bitmap, i)
	}
	for _, u := range diff.WordUpdates {
		if err := next.Bitmap.SetWord(u.Index, u.Word); err != nil {
			return nil, fmt.Errorf("patcher: %w", err)
		}
	}

	for _, id := range diff.PositionDeletions {
		delete(next.Positions, id)
	}
	for _, pos := range diff.PositionUpdates {
		c := *pos
		next.Positions[pos.ID] = &c
	}

	for _, u := range diff.ObservationUpdates {
		if int(u.Index) > len(next.Oracle.Observations) {
			return nil, fmt.Errorf("patcher: observation %d written past buffer of %d", u.Index, len(next.Oracle.Observations))
		}
		if int(u.Index) == len(next.Oracle.Observations) {
			next.Oracle.Observations = append(next.Oracle.Observations, u.Observation)
			continue
		}
		next.Oracle.Observations[u.Index] = u.Observation
	}

	return next, nil
}
