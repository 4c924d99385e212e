package blockcache

import "sync/atomic"

// Range is a pointer-stable view of length bytes inside a decompressed
// block, per spec.md Section 4.3.1. The view keeps its block pinned
// (ineligible for LRU eviction) until Release is called.
type Range struct {
	cache    *Cache
	blockNo  uint32
	data     []byte
	released atomic.Bool
}

// Bytes returns the range's backing slice. Valid only until Release is
// called; callers that need to retain the data past Release must copy
// it first.
func (r *Range) Bytes() []byte { return r.data }

// Release unpins the backing block, making it eligible for LRU
// eviction once no other Range pins it. Calling Release more than once
// is a no-op.
func (r *Range) Release() {
	if r.released.Swap(true) {
		return
	}
	r.cache.unpin(r.blockNo)
}
