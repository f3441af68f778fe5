// Package oracle keeps a pool's price history as a ring buffer of cumulative observations.
//
// Each observation stores the running sum of tick*seconds and of seconds/liquidity since the
// pool was created. Sums wrap modularly; only differences between two readings are meaningful.
// Timestamps are 32-bit and compared modulo 2^32 relative to the current time, so the buffer
// keeps working across the wrap.
package oracle

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/fullmath"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

var (
	ErrCardinalityZero     = errors.New("oracle not initialized")
	ErrCardinalityDecrease = errors.New("observation cardinality cannot shrink")
	ErrObservationTooOld   = errors.New("target is older than the oldest observation")
	ErrInvalidWindow       = errors.New("twap window must be greater than zero")
)

// Observation is one cumulative sample.
type Observation struct {
	BlockTimestamp uint32
	// TickCumulative is the sum of tick * seconds elapsed.
	TickCumulative int64
	// SecondsPerLiquidityCumulativeX64 is the sum of seconds / max(1, liquidity), Q64.64.
	SecondsPerLiquidityCumulativeX64 uint128.Uint128
	Initialized                      bool
}

// Oracle is the observation storage. Only the first cardinality slots are live; slots up to
// cardinalityNext are allocated but not yet in the rotation.
type Oracle struct {
	Observations []Observation
}

// transform advances last to time, assuming tick and liquidity held over the whole interval.
func transform(last Observation, time uint32, tick int32, liquidity uint128.Uint128) Observation {
	delta := time - last.BlockTimestamp
	if liquidity.IsZero() {
		liquidity = uint128.From64(1)
	}
	return Observation{
		BlockTimestamp:                   time,
		TickCumulative:                   last.TickCumulative + int64(tick)*int64(delta),
		SecondsPerLiquidityCumulativeX64: last.SecondsPerLiquidityCumulativeX64.AddWrap(uint128.New(0, uint64(delta)).Div(liquidity)),
		Initialized:                      true,
	}
}

// Initialize writes the first observation and returns the starting cardinality and cardinalityNext.
func (o *Oracle) Initialize(time uint32) (cardinality, cardinalityNext uint16) {
	o.Observations = []Observation{{BlockTimestamp: time, Initialized: true}}
	return 1, 1
}

// Write records the state that held since the latest observation. At most one observation is
// written per timestamp. The buffer grows into cardinalityNext once the write index reaches the
// end of the current rotation.
func (o *Oracle) Write(
	index uint16,
	time uint32,
	tick int32,
	liquidity uint128.Uint128,
	cardinality uint16,
	cardinalityNext uint16,
) (indexUpdated, cardinalityUpdated uint16) {
	last := o.Observations[index]

	// early return if we've already written an observation this block
	if last.BlockTimestamp == time {
		return index, cardinality
	}

	cardinalityUpdated = cardinality
	if cardinalityNext > cardinality && index == cardinality-1 {
		cardinalityUpdated = cardinalityNext
	}

	indexUpdated = uint16((uint32(index) + 1) % uint32(cardinalityUpdated))
	o.Observations[indexUpdated] = transform(last, time, tick, liquidity)
	return indexUpdated, cardinalityUpdated
}

// Grow allocates slots up to next and returns the new cardinalityNext. Asking for the current
// size is a no-op; asking for less fails with ErrCardinalityDecrease.
func (o *Oracle) Grow(current, next uint16) (uint16, error) {
	if current == 0 {
		return 0, ErrCardinalityZero
	}
	if next < current {
		return current, fmt.Errorf("%w: %d below %d", ErrCardinalityDecrease, next, current)
	}
	if next == current {
		return current, nil
	}
	for len(o.Observations) < int(next) {
		o.Observations = append(o.Observations, Observation{})
	}
	return next, nil
}

// Clone returns a deep copy.
func (o *Oracle) Clone() *Oracle {
	c := &Oracle{Observations: make([]Observation, len(o.Observations))}
	copy(c.Observations, o.Observations)
	return c
}

// lte compares two timestamps that are both at or before time, allowing for one wrap of 2^32.
func lte(time, a, b uint32) bool {
	// if there hasn't been overflow, no need to adjust
	if a <= time && b <= time {
		return a <= b
	}

	aAdjusted, bAdjusted := uint64(a), uint64(b)
	if a <= time {
		aAdjusted += 1 << 32
	}
	if b <= time {
		bAdjusted += 1 << 32
	}
	return aAdjusted <= bAdjusted
}

// binarySearch finds the observations at or around target. The target must lie between the
// oldest observation and the newest one.
func (o *Oracle) binarySearch(time, target uint32, index, cardinality uint16) (beforeOrAt, atOrAfter Observation) {
	card := int(cardinality)
	l := (int(index) + 1) % card // oldest observation
	r := l + card - 1            // newest observation

	for {
		i := (l + r) / 2
		beforeOrAt = o.Observations[i%card]

		// we've landed on an uninitialized slot, keep searching higher (more recently)
		if !beforeOrAt.Initialized {
			l = i + 1
			continue
		}

		atOrAfter = o.Observations[(i+1)%card]

		targetAtOrAfter := lte(time, beforeOrAt.BlockTimestamp, target)
		if targetAtOrAfter && lte(time, target, atOrAfter.BlockTimestamp) {
			return beforeOrAt, atOrAfter
		}

		if !targetAtOrAfter {
			r = i - 1
		} else {
			l = i + 1
		}
	}
}

func (o *Oracle) getSurroundingObservations(
	time, target uint32,
	tick int32,
	index uint16,
	liquidity uint128.Uint128,
	cardinality uint16,
) (beforeOrAt, atOrAfter Observation, err error) {
	// optimistically set before to the newest observation
	beforeOrAt = o.Observations[index]

	if lte(time, beforeOrAt.BlockTimestamp, target) {
		if beforeOrAt.BlockTimestamp == target {
			return beforeOrAt, atOrAfter, nil
		}
		// the target is after the newest observation: extrapolate with the current state
		return beforeOrAt, transform(beforeOrAt, target, tick, liquidity), nil
	}

	// now, set before to the oldest observation
	beforeOrAt = o.Observations[(uint32(index)+1)%uint32(cardinality)]
	if !beforeOrAt.Initialized {
		beforeOrAt = o.Observations[0]
	}

	if !lte(time, beforeOrAt.BlockTimestamp, target) {
		return Observation{}, Observation{}, fmt.Errorf("%w: target %d, oldest %d", ErrObservationTooOld, target, beforeOrAt.BlockTimestamp)
	}

	beforeOrAt, atOrAfter = o.binarySearch(time, target, index, cardinality)
	return beforeOrAt, atOrAfter, nil
}

// ObserveSingle returns the cumulative values as of secondsAgo before time, interpolating between
// the surrounding observations.
func (o *Oracle) ObserveSingle(
	time uint32,
	secondsAgo uint32,
	tick int32,
	index uint16,
	liquidity uint128.Uint128,
	cardinality uint16,
) (tickCumulative int64, secondsPerLiquidityCumulativeX64 uint128.Uint128, err error) {
	if cardinality == 0 {
		return 0, uint128.Zero, ErrCardinalityZero
	}

	if secondsAgo == 0 {
		last := o.Observations[index]
		if last.BlockTimestamp != time {
			last = transform(last, time, tick, liquidity)
		}
		return last.TickCumulative, last.SecondsPerLiquidityCumulativeX64, nil
	}

	target := time - secondsAgo

	beforeOrAt, atOrAfter, err := o.getSurroundingObservations(time, target, tick, index, liquidity, cardinality)
	if err != nil {
		return 0, uint128.Zero, err
	}

	switch target {
	case beforeOrAt.BlockTimestamp:
		return beforeOrAt.TickCumulative, beforeOrAt.SecondsPerLiquidityCumulativeX64, nil
	case atOrAfter.BlockTimestamp:
		return atOrAfter.TickCumulative, atOrAfter.SecondsPerLiquidityCumulativeX64, nil
	}

	// we're in the middle
	observationTimeDelta := atOrAfter.BlockTimestamp - beforeOrAt.BlockTimestamp
	targetDelta := target - beforeOrAt.BlockTimestamp

	tickCumulative = beforeOrAt.TickCumulative +
		(atOrAfter.TickCumulative-beforeOrAt.TickCumulative)/int64(observationTimeDelta)*int64(targetDelta)

	splDelta := atOrAfter.SecondsPerLiquidityCumulativeX64.SubWrap(beforeOrAt.SecondsPerLiquidityCumulativeX64)
	scaled := fullmath.U256(splDelta)
	scaled.Mul(scaled, uint256.NewInt(uint64(targetDelta)))
	scaled.Div(scaled, uint256.NewInt(uint64(observationTimeDelta)))
	interpolated, _ := fullmath.ToUint128(scaled) // delta*targetDelta/timeDelta <= delta

	return tickCumulative, beforeOrAt.SecondsPerLiquidityCumulativeX64.AddWrap(interpolated), nil
}

// Observe calls ObserveSingle for each entry of secondsAgos.
func (o *Oracle) Observe(
	time uint32,
	secondsAgos []uint32,
	tick int32,
	index uint16,
	liquidity uint128.Uint128,
	cardinality uint16,
) (tickCumulatives []int64, secondsPerLiquidityCumulativeX64s []uint128.Uint128, err error) {
	if cardinality == 0 {
		return nil, nil, ErrCardinalityZero
	}

	tickCumulatives = make([]int64, len(secondsAgos))
	secondsPerLiquidityCumulativeX64s = make([]uint128.Uint128, len(secondsAgos))
	for i, secondsAgo := range secondsAgos {
		tickCumulatives[i], secondsPerLiquidityCumulativeX64s[i], err = o.ObserveSingle(time, secondsAgo, tick, index, liquidity, cardinality)
		if err != nil {
			return nil, nil, err
		}
	}
	return tickCumulatives, secondsPerLiquidityCumulativeX64s, nil
}

// ConsultTWAP returns the time-weighted average tick over the last window seconds, rounded
// toward negative infinity.
func (o *Oracle) ConsultTWAP(
	time uint32,
	window uint32,
	tick int32,
	index uint16,
	liquidity uint128.Uint128,
	cardinality uint16,
) (int32, error) {
	if window == 0 {
		return 0, ErrInvalidWindow
	}

	tickCumulatives, _, err := o.Observe(time, []uint32{window, 0}, tick, index, liquidity, cardinality)
	if err != nil {
		return 0, err
	}
	return MeanTick(tickCumulatives[0], tickCumulatives[1], window), nil
}

// MeanTick divides the cumulative delta by the elapsed seconds, rounding toward negative infinity.
func MeanTick(from, to int64, seconds uint32) int32 {
	delta := to - from
	mean := delta / int64(seconds)
	if delta < 0 && delta%int64(seconds) != 0 {
		mean--
	}
	return int32(mean)
}
