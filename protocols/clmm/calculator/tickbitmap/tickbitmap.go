package tickbitmap

import (
	"errors"
	"fmt"
	"slices"

	"github.com/defistate/defistate-clmm/bitset"
)

// WordBits is the number of compressed ticks tracked by one bitmap word.
const WordBits = 256

var (
	ErrTickMisaligned = errors.New("tick is not a multiple of the tick spacing")
	ErrWordSize       = fmt.Errorf("bitmap word must hold %d bits", WordBits)
)

// Bitmap holds one bit per spacing-aligned tick, grouped into 256-bit words keyed by word index.
// A set bit means the tick is initialized. Words that become empty are dropped.
type Bitmap map[int16]bitset.BitSet

// Compress divides tick by spacing, rounding toward negative infinity.
func Compress(tick int32, spacing uint16) int32 {
	s := int32(spacing)
	compressed := tick / s
	if tick < 0 && tick%s != 0 {
		compressed--
	}
	return compressed
}

// Position returns the word index and bit offset of a compressed tick.
func Position(compressed int32) (word int16, bit uint8) {
	return int16(compressed >> 8), uint8(compressed & 0xff)
}

// Flip toggles the initialized bit of tick.
func (b Bitmap) Flip(tick int32, spacing uint16) error {
	if tick%int32(spacing) != 0 {
		return fmt.Errorf("%w: tick %d, spacing %d", ErrTickMisaligned, tick, spacing)
	}

	word, bit := Position(tick / int32(spacing))
	w, ok := b[word]
	if !ok {
		w = bitset.NewBitSet(WordBits)
		b[word] = w
	}
	w.Flip(uint64(bit))
	if w.IsEmpty() {
		delete(b, word)
	}
	return nil
}

// IsInitialized reports whether the bit of a spacing-aligned tick is set.
func (b Bitmap) IsInitialized(tick int32, spacing uint16) bool {
	word, bit := Position(Compress(tick, spacing))
	w, ok := b[word]
	return ok && w.IsSet(uint64(bit))
}

// NextInitializedTickWithinOneWord returns the next initialized tick contained in the same word
// as the tick that is either to the left (less than or equal to) or right (greater than) of the
// given tick.
//
// When no initialized tick is found, next is the last tick of the word in the search direction
// and initialized is false; the caller continues from there.
func (b Bitmap) NextInitializedTickWithinOneWord(tick int32, spacing uint16, lte bool) (next int32, initialized bool) {
	s := int32(spacing)
	compressed := Compress(tick, spacing)

	if lte {
		word, bit := Position(compressed)
		if w, ok := b[word]; ok {
			if found, ok := w.PrevSet(uint64(bit)); ok {
				return (compressed - int32(bit) + int32(found)) * s, true
			}
		}
		return (compressed - int32(bit)) * s, false
	}

	// start from the next compressed tick since the current tick is excluded
	word, bit := Position(compressed + 1)
	if w, ok := b[word]; ok {
		if found, ok := w.NextSet(uint64(bit)); ok {
			return (compressed + 1 + int32(found) - int32(bit)) * s, true
		}
	}
	return (compressed + 1 + int32(WordBits-1) - int32(bit)) * s, false
}

// Words returns the indexes of all non-empty words in ascending order.
func (b Bitmap) Words() []int16 {
	words := make([]int16, 0, len(b))
	for w := range b {
		words = append(words, w)
	}
	slices.Sort(words)
	return words
}

// Word returns the bits of word i, or nil if the word is empty.
func (b Bitmap) Word(i int16) bitset.BitSet {
	return b[i]
}

// SetWord installs a copy of w as word i, dropping the word when w is empty.
func (b Bitmap) SetWord(i int16, w bitset.BitSet) error {
	word := bitset.NewBitSet(WordBits)
	if len(w) != len(word) {
		return fmt.Errorf("%w: word %d has %d bits", ErrWordSize, i, w.Len())
	}
	if w.IsEmpty() {
		delete(b, i)
		return nil
	}
	word.SetFrom(w)
	b[i] = word
	return nil
}

// Clone returns a deep copy.
func (b Bitmap) Clone() Bitmap {
	c := make(Bitmap, len(b))
	for i, w := range b {
		c[i] = w.Clone()
	}
	return c
}
