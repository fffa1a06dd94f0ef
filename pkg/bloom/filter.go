// Package bloom implements a counting Bloom filter with atomic counters, so
// contains() is safe to call concurrently with add()/remove() from a single
// mutating owner (spec.md §4.2/§9).
package bloom

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultSize is the default number of counter cells.
	DefaultSize = 10000
	// DefaultHashCount is the default number of hash functions.
	DefaultHashCount = 3
)

// Filter is a fixed-size counting Bloom filter.
type Filter struct {
	counters  []atomic.Uint32
	size      uint64
	hashCount int
}

// New constructs a Filter with the given number of cells and hash functions.
// size and hashCount fall back to the package defaults when <= 0.
func New(size, hashCount int) *Filter {
	if size <= 0 {
		size = DefaultSize
	}

	if hashCount <= 0 {
		hashCount = DefaultHashCount
	}

	return &Filter{
		counters:  make([]atomic.Uint32, size),
		size:      uint64(size),
		hashCount: hashCount,
	}
}

// positions derives hashCount cell indices for key by combining a base hash
// of key with the hash-function index, per spec.md §4.2.
func (f *Filter) positions(key string) []uint64 {
	base := xxhash.Sum64String(key)

	idx := make([]uint64, f.hashCount)
	for i := 0; i < f.hashCount; i++ {
		var buf [16]byte

		for j := 0; j < 8; j++ {
			buf[j] = byte(base >> (8 * j))
		}

		buf[8] = byte(i)

		h := xxhash.Sum64(buf[:9])
		idx[i] = h % f.size
	}

	return idx
}

// Add increments each of key's hashed positions.
func (f *Filter) Add(key string) {
	for _, p := range f.positions(key) {
		f.counters[p].Add(1)
	}
}

// Remove decrements each of key's hashed positions with a saturating floor
// at 0; it never underflows.
func (f *Filter) Remove(key string) {
	for _, p := range f.positions(key) {
		for {
			cur := f.counters[p].Load()
			if cur == 0 {
				break
			}

			if f.counters[p].CompareAndSwap(cur, cur-1) {
				break
			}
		}
	}
}

// Contains reports whether every hashed position for key is > 0. It is
// lock-free and safe to call concurrently with Add/Remove.
func (f *Filter) Contains(key string) bool {
	for _, p := range f.positions(key) {
		if f.counters[p].Load() == 0 {
			return false
		}
	}

	return true
}
