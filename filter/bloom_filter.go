package filter

import (
	"errors"
	"math"

	"github.com/spaolacci/murmur3"
)

// autoSize marks a BloomFilter whose bitmap length is derived from the
// number of keys actually added rather than fixed at construction. A
// per-block filter can fix m once, up front, because a block's key count is
// bounded by the page size; this module's filter is a whole-SSTable sidecar
// (spec.md §6's "per-SSTable sidecar", not the teacher's per-block design —
// see DESIGN.md), so the key count isn't known until the table has been
// fully written, and a fixed small m would blow out the false-positive rate
// on a large table while wasting bits on a small one.
const autoSize = 0

// BloomFilter is a standard k-hash-function bloom filter built with the
// double-hashing trick (Kirsch-Mitzenmacher) so only two real murmur3
// hashes are ever computed per key. Its bitmap length m is either fixed at
// construction or, for a table-scoped filter, derived from targetFPRate and
// the number of keys seen by the time Hash is called.
type BloomFilter struct {
	m            int     // bitmap length in bits, or autoSize to derive it from targetFPRate
	targetFPRate float64 // used only when m == autoSize
	hashedKeys   []uint32
}

// NewBloomFilter builds an empty filter backed by a fixed m-bit bitmap,
// regardless of how many keys end up added. Appropriate when the caller
// already knows the key population in advance (e.g. a per-block filter
// sized to the block's own capacity).
func NewBloomFilter(m int) (*BloomFilter, error) {
	if m <= 0 {
		return nil, errors.New("m must be positive")
	}
	return &BloomFilter{m: m}, nil
}

// NewBloomFilterForTable builds a filter sized for an entire SSTable rather
// than one block: since a whole table's key count isn't known until the
// last entry has been appended, its bitmap length is computed from
// len(hashedKeys) and targetFPRate at Hash() time instead of a fixed m
// chosen in advance. targetFPRate must be strictly between 0 and 1 — 0.01
// (1%) is a reasonable default for a point-lookup sidecar.
func NewBloomFilterForTable(targetFPRate float64) (*BloomFilter, error) {
	if targetFPRate <= 0 || targetFPRate >= 1 {
		return nil, errors.New("targetFPRate must be in (0, 1)")
	}
	return &BloomFilter{m: autoSize, targetFPRate: targetFPRate}, nil
}

// Add records key's hash for the next Hash() call.
func (bf *BloomFilter) Add(key []byte) {
	bf.hashedKeys = append(bf.hashedKeys, murmur3.Sum32(key))
}

// Exist reports whether key may be in the set bitmap encodes. False
// positives are possible, false negatives are not.
func (bf *BloomFilter) Exist(bitmap, key []byte) bool {
	if bitmap == nil {
		bitmap = bf.Hash()
	}
	// The hash function count k is stashed in the bitmap's trailing byte.
	k := bitmap[len(bitmap)-1]

	// h1 is the raw murmur3 hash; h2 is derived from it by a bit
	// rotation. Every further hash gi = h1 + i*h2 is pairwise
	// independent enough for bloom filter purposes without hashing the
	// key k separate times.
	hashedKey := murmur3.Sum32(key)
	delta := (hashedKey >> 17) | (hashedKey << 15)
	for i := uint32(0); i < uint32(k); i++ {
		targetBit := (hashedKey + i*delta) % uint32((len(bitmap)-1)<<3)
		if bitmap[targetBit>>3]&(1<<(targetBit&7)) == 0 {
			return false
		}
	}
	return true
}

// Hash serializes the current working set into a bitmap whose trailing
// byte holds the hash function count k. For an auto-sized filter, m is
// derived here from the final key count, the one point in the filter's
// lifecycle a whole-table caller has both the complete key set and a
// use for the resulting bitmap.
func (bf *BloomFilter) Hash() []byte {
	m := bf.sizeBits()
	k := bestK(m, len(bf.hashedKeys))
	bitmap := newBitmap(m, k)

	for _, hashedKey := range bf.hashedKeys {
		delta := (hashedKey >> 17) | (hashedKey << 15)
		for i := uint32(0); i < uint32(k); i++ {
			targetBit := (hashedKey + i*delta) % uint32((len(bitmap)-1)<<3)
			bitmap[targetBit>>3] |= (1 << (targetBit & 7))
		}
	}

	return bitmap
}

// Reset clears the working set so the filter can be reused for the next
// SSTable.
func (bf *BloomFilter) Reset() {
	bf.hashedKeys = bf.hashedKeys[:0]
}

// KeyLen returns the number of keys added since the last Reset.
func (bf *BloomFilter) KeyLen() int {
	return len(bf.hashedKeys)
}

// sizeBits returns the bitmap length to use for the current working set: m
// as fixed at construction, or — for an auto-sized, whole-table filter —
// the standard optimal-bitmap-size formula m = -(n * ln(p)) / (ln2)^2
// evaluated against the keys actually added.
func (bf *BloomFilter) sizeBits() int {
	if bf.m != autoSize {
		return bf.m
	}
	n := len(bf.hashedKeys)
	if n == 0 {
		n = 1
	}
	m := int(math.Ceil(-1 * float64(n) * math.Log(bf.targetFPRate) / (math.Ln2 * math.Ln2)))
	if m < 8 {
		m = 8
	}
	return m
}

func newBitmap(m int, k uint8) []byte {
	bitmapLen := (m + 7) >> 3
	bitmap := make([]byte, bitmapLen+1)
	bitmap[bitmapLen] = k
	return bitmap
}

// bestK derives the hash function count that minimizes the false positive
// rate for m bits and n keys: k = ln2 * m / n, clamped to a sane range.
func bestK(m, n int) uint8 {
	if n == 0 {
		n = 1
	}
	k := uint8(69 * m / 100 / n)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return k
}
