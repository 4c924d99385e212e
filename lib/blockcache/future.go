package blockcache

import (
	"context"
	"fmt"
)

// Future resolves to a pinned Range once the requested byte range is
// fully decoded, per spec.md Section 4.3.1. Future itself never
// blocks; all waiting happens in Wait.
type Future struct {
	cache   *Cache
	blockNo uint32
	offset  int
	length  int
}

// Wait blocks until the requested range is available, the block's
// decode fails, or ctx is cancelled. A successful Wait pins the
// backing block; callers must call Range.Release when done with the
// returned bytes.
//
// Dropping a Future (never calling Wait, or cancelling ctx) detaches
// its waiter without cleanup: no side table entry was created to
// remove, so cancellation costs nothing beyond the frame already in
// flight, per spec.md Section 4.3.5.
func (f *Future) Wait(ctx context.Context) (*Range, error) {
	c := f.cache
	for {
		c.mu.Lock()
		e, ok := c.lru.Peek(f.blockNo)
		if !ok {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: block %d", ErrUnknownBlock, f.blockNo)
		}
		if e.err != nil {
			err := e.err
			c.mu.Unlock()
			return nil, err
		}
		if e.satisfied(f.offset, f.length) && e.state != stateUnreferenced && e.state != statePending {
			e.pinCount++
			data := e.buffer[f.offset : f.offset+f.length]
			c.mu.Unlock()
			return &Range{cache: c, blockNo: f.blockNo, data: data}, nil
		}

		need := f.offset + f.length
		if need > e.needed {
			e.needed = need
		}
		sig := e.signal
		c.mu.Unlock()

		select {
		case <-sig:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
	}
}
