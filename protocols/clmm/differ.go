package clmm

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/defistate/defistate-clmm/bitset"
	"github.com/defistate/defistate-clmm/protocols/clmm/oracle"
	"github.com/gagliardetto/solana-go"
)

// WordUpdate is a bitmap word that was added or changed.
type WordUpdate struct {
	Index int16         `json:"index"`
	Word  bitset.BitSet `json:"word"`
}

// ObservationUpdate is an oracle slot that was written.
type ObservationUpdate struct {
	Index       uint16             `json:"index"`
	Observation oracle.Observation `json:"observation"`
}

// PoolStateDiff is the set of records that differ between two versions of one pool.
// Every slice is sorted by key so the diff is deterministic.
type PoolStateDiff struct {
	// Pool is set when the pool record changed.
	Pool *Pool `json:"pool,omitempty"`

	TickUpdates   []*TickState `json:"tickUpdates,omitempty"`
	TickDeletions []int32      `json:"tickDeletions,omitempty"`

	WordUpdates   []WordUpdate `json:"wordUpdates,omitempty"`
	WordDeletions []int16      `json:"wordDeletions,omitempty"`

	PositionUpdates   []*Position        `json:"positionUpdates,omitempty"`
	PositionDeletions []solana.PublicKey `json:"positionDeletions,omitempty"`

	ObservationUpdates []ObservationUpdate `json:"observationUpdates,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d PoolStateDiff) IsEmpty() bool {
	return d.Pool == nil &&
		len(d.TickUpdates) == 0 && len(d.TickDeletions) == 0 &&
		len(d.WordUpdates) == 0 && len(d.WordDeletions) == 0 &&
		len(d.PositionUpdates) == 0 && len(d.PositionDeletions) == 0 &&
		len(d.ObservationUpdates) == 0
}

// Records counts the records the diff touches.
func (d PoolStateDiff) Records() int {
	n := len(d.TickUpdates) + len(d.TickDeletions) +
		len(d.WordUpdates) + len(d.WordDeletions) +
		len(d.PositionUpdates) + len(d.PositionDeletions) +
		len(d.ObservationUpdates)
	if d.Pool != nil {
		n++
	}
	return n
}

func tickChanged(old, new *TickState) bool {
	if old.LiquidityNet.Cmp(new.LiquidityNet) != 0 {
		return true
	}
	return old.LiquidityGross != new.LiquidityGross ||
		old.FeeGrowthOutside0X64 != new.FeeGrowthOutside0X64 ||
		old.FeeGrowthOutside1X64 != new.FeeGrowthOutside1X64 ||
		old.RewardGrowthsOutsideX64 != new.RewardGrowthsOutsideX64
}

// Differ returns the records of new that differ from old. A nil old yields every record of new
// as an addition. The diff shares memory with new.
func Differ(old, new *PoolState) PoolStateDiff {
	if old == nil {
		old = &PoolState{}
	}
	var diff PoolStateDiff

	if old.Oracle == nil || old.Pool != new.Pool {
		p := new.Pool
		diff.Pool = &p
	}

	// --- ticks ---
	for tick, info := range new.Ticks {
		prev, ok := old.Ticks[tick]
		if !ok || tickChanged(prev, info) {
			diff.TickUpdates = append(diff.TickUpdates, info)
		}
	}
	for tick := range old.Ticks {
		if _, ok := new.Ticks[tick]; !ok {
			diff.TickDeletions = append(diff.TickDeletions, tick)
		}
	}
	slices.SortFunc(diff.TickUpdates, func(a, b *TickState) int { return cmp.Compare(a.Tick, b.Tick) })
	slices.Sort(diff.TickDeletions)

	// --- bitmap words ---
	for i, w := range new.Bitmap {
		prev, ok := old.Bitmap[i]
		if !ok || !slices.Equal(prev, w) {
			diff.WordUpdates = append(diff.WordUpdates, WordUpdate{Index: i, Word: w})
		}
	}
	for i := range old.Bitmap {
		if _, ok := new.Bitmap[i]; !ok {
			diff.WordDeletions = append(diff.WordDeletions, i)
		}
	}
	slices.SortFunc(diff.WordUpdates, func(a, b WordUpdate) int { return cmp.Compare(a.Index, b.Index) })
	slices.Sort(diff.WordDeletions)

	// --- positions ---
	for id, pos := range new.Positions {
		prev, ok := old.Positions[id]
		if !ok || *prev != *pos {
			diff.PositionUpdates = append(diff.PositionUpdates, pos)
		}
	}
	for id := range old.Positions {
		if _, ok := new.Positions[id]; !ok {
			diff.PositionDeletions = append(diff.PositionDeletions, id)
		}
	}
	slices.SortFunc(diff.PositionUpdates, func(a, b *Position) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	slices.SortFunc(diff.PositionDeletions, func(a, b solana.PublicKey) int { return bytes.Compare(a[:], b[:]) })

	// --- observations; the buffer only grows ---
	var oldObservations []oracle.Observation
	if old.Oracle != nil {
		oldObservations = old.Oracle.Observations
	}
	for i, obs := range new.Oracle.Observations {
		if i >= len(oldObservations) || oldObservations[i] != obs {
			diff.ObservationUpdates = append(diff.ObservationUpdates, ObservationUpdate{Index: uint16(i), Observation: obs})
		}
	}

	return diff
}
