package blockcache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CrazyForks/dwarfs/lib/clock"
	"github.com/CrazyForks/dwarfs/lib/dwarfscodec"
)

// countingCodec wraps a real codec and counts NewDecoder calls, to
// verify single-flight decode coalescing (spec.md Section 8's
// "Single-flight" testable property).
type countingCodec struct {
	dwarfscodec.Codec
	decodes atomic.Int32
}

func (c *countingCodec) NewDecoder(compressed []byte, size int, metadata string) (dwarfscodec.FrameDecoder, error) {
	c.decodes.Add(1)
	return c.Codec.NewDecoder(compressed, size, metadata)
}

func registry() *dwarfscodec.Registry { return dwarfscodec.NewRegistry() }

func insertBlock(t *testing.T, c *Cache, blockNo uint32, data []byte, codec dwarfscodec.Codec) {
	t.Helper()
	compressed, err := codec.Compress(data, "")
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if err := c.Insert(Section{
		BlockNo:          blockNo,
		Compressed:       compressed,
		Codec:            codec,
		UncompressedSize: len(data),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func mustGet(t *testing.T, c *Cache, blockNo uint32, offset, length int) []byte {
	t.Helper()
	f, err := c.Get(blockNo, offset, length)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	r, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	defer r.Release()
	return append([]byte(nil), r.Bytes()...)
}

func TestCacheCoherence(t *testing.T) {
	reg := registry()
	none, _ := reg.Lookup("none")
	data := []byte("hello, dwarfs block cache")

	c := New(1 << 20)
	insertBlock(t, c, 0, data, none)

	for _, tc := range []struct{ offset, length int }{
		{0, len(data)},
		{0, 5},
		{7, 9},
		{len(data) - 1, 1},
	} {
		got := mustGet(t, c, 0, tc.offset, tc.length)
		want := data[tc.offset : tc.offset+tc.length]
		if !bytes.Equal(got, want) {
			t.Fatalf("get(0,%d,%d) = %q, want %q", tc.offset, tc.length, got, want)
		}
	}
}

func TestSingleFlightDecode(t *testing.T) {
	reg := registry()
	zstd, _ := reg.Lookup("zstd")
	wrapped := &countingCodec{Codec: zstd}

	data := bytes.Repeat([]byte("abcdefgh"), 4096)
	c := New(1 << 20)
	insertBlock(t, c, 0, data, wrapped)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := c.Get(0, i%len(data), 1)
			if err != nil {
				errs <- err
				return
			}
			r, err := f.Wait(context.Background())
			if err != nil {
				errs <- err
				return
			}
			r.Release()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent get: %v", err)
	}

	if got := wrapped.decodes.Load(); got != 1 {
		t.Fatalf("NewDecoder called %d times, want exactly 1", got)
	}
}

func TestLRUEvictsLeastRecentlyUsedUnpinned(t *testing.T) {
	reg := registry()
	none, _ := reg.Lookup("none")

	blockSize := 100
	c := New(uint64(2 * blockSize))

	for i := uint32(0); i < 3; i++ {
		insertBlock(t, c, i, bytes.Repeat([]byte{byte('A' + i)}, blockSize), none)
	}

	mustGet(t, c, 0, 0, 1)
	mustGet(t, c, 1, 0, 1)

	// Block 2 needs room; 0 was touched least recently among {0,1}, so
	// it should be the one evicted (not 1).
	mustGet(t, c, 2, 0, 1)

	c.mu.Lock()
	e0, _ := c.lru.Peek(0)
	e1, _ := c.lru.Peek(1)
	e2, _ := c.lru.Peek(2)
	s0, s1, s2 := e0.state, e1.state, e2.state
	c.mu.Unlock()

	if s0 != stateEvicted {
		t.Fatalf("expected block 0 evicted, got state %v", s0)
	}
	if s1 != stateReady {
		t.Fatalf("expected block 1 to remain resident, got state %v", s1)
	}
	if s2 != stateReady {
		t.Fatalf("expected block 2 resident after eviction, got state %v", s2)
	}
}

func TestLRUNeverExceedsMaxBytes(t *testing.T) {
	reg := registry()
	none, _ := reg.Lookup("none")
	blockSize := 64
	maxBytes := uint64(3 * blockSize)

	c := New(maxBytes)
	for i := uint32(0); i < 10; i++ {
		insertBlock(t, c, i, bytes.Repeat([]byte{byte(i)}, blockSize), none)
		mustGet(t, c, i, 0, 1)

		c.mu.Lock()
		resident := c.residentBytes
		c.mu.Unlock()
		if resident > maxBytes {
			t.Fatalf("resident bytes %d exceeds max %d after block %d", resident, maxBytes, i)
		}
	}
}

func TestPinBlocksEviction(t *testing.T) {
	reg := registry()
	none, _ := reg.Lookup("none")
	blockSize := 50
	c := New(uint64(blockSize)) // room for exactly one block

	insertBlock(t, c, 0, bytes.Repeat([]byte{'x'}, blockSize), none)
	insertBlock(t, c, 1, bytes.Repeat([]byte{'y'}, blockSize), none)

	f0, err := c.Get(0, 0, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	r0, err := f0.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// r0 stays pinned (not released) across the second Get.

	c.SetCacheFullPolicy(PolicyFail)
	if _, err := c.Get(1, 0, 1); err == nil {
		t.Fatalf("expected cache_full error while block 0 is pinned")
	}

	r0.Release()

	f1, err := c.Get(1, 0, 1)
	if err != nil {
		t.Fatalf("Get after release: %v", err)
	}
	if _, err := f1.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after release: %v", err)
	}
}

func TestWaitCancellation(t *testing.T) {
	reg := registry()
	none, _ := reg.Lookup("none")
	c := New(1 << 20)
	data := []byte("some data")
	insertBlock(t, c, 0, data, none)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A range extending past the block's declared size can never be
	// satisfied, so Wait is guaranteed to still be parked on the
	// signal channel when ctx.Done() fires — no race against decode
	// completing first.
	f, err := c.Get(0, 0, len(data)+1000)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := f.Wait(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestUnknownBlock(t *testing.T) {
	c := New(1 << 20)
	if _, err := c.Get(99, 0, 1); err == nil {
		t.Fatalf("expected error for unregistered block")
	}
}

func TestIdleTidyEvictsAfterMaxAge(t *testing.T) {
	reg := registry()
	none, _ := reg.Lookup("none")
	fake := clock.Fake(time.Unix(0, 0))

	c := New(1 << 20)
	c.SetClock(fake)
	insertBlock(t, c, 0, []byte("idle tidy candidate"), none)
	mustGet(t, c, 0, 0, 1)

	c.SetTidyConfig(TidyConfig{Strategy: TidyExpire, Interval: time.Second, MaxAge: 5 * time.Second})
	defer c.Close()

	fake.WaitForTimers(1)
	fake.Advance(10 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		e, _ := c.lru.Peek(uint32(0))
		st := e.state
		c.mu.Unlock()
		if st == stateEvicted {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("block was not evicted by idle tidy")
}

func TestInsertRejectsDuplicateBlock(t *testing.T) {
	reg := registry()
	none, _ := reg.Lookup("none")
	c := New(1 << 20)
	insertBlock(t, c, 0, []byte("x"), none)

	compressed, _ := none.Compress([]byte("y"), "")
	err := c.Insert(Section{BlockNo: 0, Compressed: compressed, Codec: none, UncompressedSize: 1})
	if err == nil {
		t.Fatalf("expected error inserting an already-registered block")
	}
}

func TestConcurrentDistinctBlocksDecodeInParallel(t *testing.T) {
	reg := registry()
	none, _ := reg.Lookup("none")
	c := New(1 << 20)
	c.SetNumWorkers(4)

	const n = 8
	for i := uint32(0); i < n; i++ {
		insertBlock(t, c, i, []byte(fmt.Sprintf("block-%d-payload", i)), none)
	}

	var wg sync.WaitGroup
	for i := uint32(0); i < n; i++ {
		wg.Add(1)
		go func(i uint32) {
			defer wg.Done()
			mustGet(t, c, i, 0, 5)
		}(i)
	}
	wg.Wait()
}
