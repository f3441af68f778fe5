package bitset

import (
	"fmt"
	"math/bits"
)

// BitSet is a fixed-width set of bits packed into 64-bit words.
// Bit i lives in word i/64 at position i%64.
type BitSet []uint64

// NewBitSet allocates a zeroed BitSet able to hold n bits.
func NewBitSet(n uint64) BitSet {
	words := (n + 63) / 64
	return make(BitSet, words)
}

// Len returns the number of addressable bits.
func (b BitSet) Len() uint64 {
	return uint64(len(b)) * 64
}

func (b BitSet) IsSet(index uint64) bool {
	return b[index/64]&(uint64(1)<<(index%64)) != 0
}

func (b BitSet) Set(index uint64) {
	b[index/64] |= uint64(1) << (index % 64)
}

// Flip toggles a bit and reports its new value.
func (b BitSet) Flip(index uint64) bool {
	b[index/64] ^= uint64(1) << (index % 64)
	return b.IsSet(index)
}

func (b BitSet) Clear() {
	for i := range b {
		b[i] = 0
	}
}

// IsEmpty reports whether no bit is set.
func (b BitSet) IsEmpty() bool {
	for _, w := range b {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of set bits.
func (b BitSet) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

func (b BitSet) SetFrom(o BitSet) {
	if len(b) != len(o) {
		panic(fmt.Sprintf("bitsets must be same size: got %d vs %d", len(b), len(o)))
	}
	copy(b, o)
}

// Clone returns an independent copy.
func (b BitSet) Clone() BitSet {
	c := make(BitSet, len(b))
	copy(c, b)
	return c
}

// NextSet returns the lowest set bit with index >= from.
func (b BitSet) NextSet(from uint64) (uint64, bool) {
	if from >= b.Len() {
		return 0, false
	}
	w := from / 64
	// drop the bits below from in the first word
	word := b[w] >> (from % 64) << (from % 64)
	for {
		if word != 0 {
			return w*64 + uint64(bits.TrailingZeros64(word)), true
		}
		w++
		if w >= uint64(len(b)) {
			return 0, false
		}
		word = b[w]
	}
}

// PrevSet returns the highest set bit with index <= from.
func (b BitSet) PrevSet(from uint64) (uint64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	if from >= b.Len() {
		from = b.Len() - 1
	}
	w := from / 64
	// keep bits 0..from%64 of the first word
	shift := 63 - from%64
	word := b[w] << shift >> shift
	for {
		if word != 0 {
			return w*64 + uint64(63-bits.LeadingZeros64(word)), true
		}
		if w == 0 {
			return 0, false
		}
		w--
		word = b[w]
	}
}
