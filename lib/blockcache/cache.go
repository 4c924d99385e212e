// Package blockcache implements the futures-returning, single-flight,
// LRU-evicted, frame-incremental block cache from spec.md Section 4.3
// — the centerpiece subsystem serving arbitrary byte ranges out of
// logically-decompressed blocks while capping resident bytes and
// decoding each block at most once.
package blockcache

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/CrazyForks/dwarfs/lib/clock"
	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
)

// defaultFrameSize is the fallback decode granularity used when no
// waiter's need indicates a larger frame is worth decoding in one
// call, per spec.md Section 4.3.4 ("frame_size based on the largest
// outstanding waiter").
const defaultFrameSize = 64 * 1024

// Cache is a block cache as specified in spec.md Section 4.3. The zero
// value is not usable; construct with New.
type Cache struct {
	mu            sync.Mutex
	lru           *simplelru.LRU[uint32, *entry]
	maxBytes      uint64
	residentBytes uint64
	blockSize     int
	numWorkers    int
	sem           chan struct{}
	sf            singleflight.Group
	policy        CacheFullPolicy
	clock         clock.Clock
	capSignal     chan struct{}

	tidy     TidyConfig
	tidyStop chan struct{}
	tidyDone chan struct{}
}

// New returns a Cache bounded to maxBytes resident decompressed bytes.
// set_block_size/set_num_workers/set_tidy_config may be called any
// time before the first Get, per spec.md Section 4.3.1.
func New(maxBytes uint64) *Cache {
	lru, _ := simplelru.NewLRU[uint32, *entry](math.MaxInt32, nil)
	c := &Cache{
		lru:        lru,
		maxBytes:   maxBytes,
		numWorkers: 1,
		sem:        make(chan struct{}, 1),
		policy:     PolicyBlock,
		clock:      clock.Real(),
		capSignal:  make(chan struct{}),
	}
	return c
}

// SetBlockSize records the nominal decompressed block size. The value
// is stored only; frame sizes are chosen from defaultFrameSize and the
// waiters' needs (chooseFrameSizeLocked), not from it.
func (c *Cache) SetBlockSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockSize = n
}

// SetNumWorkers bounds the number of concurrent block decodes.
func (c *Cache) SetNumWorkers(k int) {
	if k < 1 {
		k = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.numWorkers = k
	c.sem = make(chan struct{}, k)
}

// SetCacheFullPolicy selects block-vs-fail behavior when admitting a
// block would exceed max_bytes with no evictable candidate.
func (c *Cache) SetCacheFullPolicy(p CacheFullPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}

// SetClock overrides the clock used for lastAccess bookkeeping and
// idle-tidy scheduling. Tests use clock.Fake to drive tidy
// deterministically.
func (c *Cache) SetClock(cl clock.Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = cl
}

// SetTidyConfig installs the idle-eviction background task
// configuration, per spec.md Section 4.3.3. Calling it again replaces
// any previously running tidy task.
func (c *Cache) SetTidyConfig(cfg TidyConfig) {
	c.stopTidyLocked()
	c.mu.Lock()
	c.tidy = cfg
	c.mu.Unlock()
	if cfg.Strategy == TidyExpire {
		c.startTidy()
	}
}

// Insert registers the compressed section for block index
// section.BlockNo, per spec.md Section 4.3.1.
func (c *Cache) Insert(section Section) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lru.Peek(section.BlockNo); ok {
		return fmt.Errorf("blockcache: block %d already registered", section.BlockNo)
	}
	c.lru.Add(section.BlockNo, newEntry(section))
	return nil
}

// Get returns a Future that resolves once [offset, offset+length) of
// block blockNo's decompressed bytes is available. Get itself never
// blocks, per spec.md Section 5 ("readv returns a vector of such
// futures without itself blocking").
func (c *Cache) Get(blockNo uint32, offset, length int) (*Future, error) {
	c.mu.Lock()
	e, ok := c.lru.Get(blockNo)
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: block %d", ErrUnknownBlock, blockNo)
	}

	// Claim the block immediately so a concurrent Get for the same
	// block_no sees PENDING rather than racing this call's admission
	// step. admit reverts the claim if admission fails.
	needsLaunch := e.state == stateUnreferenced || e.state == stateEvicted
	if needsLaunch {
		e.state = statePending
		e.err = nil
	}
	e.lastAccess = c.clock.Now()
	c.mu.Unlock()

	if needsLaunch {
		if err := c.admit(e); err != nil {
			return nil, err
		}
		c.launchDecode(e)
	}
	return &Future{cache: c, blockNo: blockNo, offset: offset, length: length}, nil
}

// admit ensures room for one more block's declared uncompressed size,
// evicting or blocking per the configured CacheFullPolicy. On failure
// it reverts e back to UNREFERENCED so a later Get can retry.
func (c *Cache) admit(e *entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	need := uint64(e.section.UncompressedSize)
	for c.residentBytes+need > c.maxBytes && c.residentBytes > 0 {
		if c.evictOneLocked() {
			continue
		}
		if c.policy == PolicyFail {
			e.state = stateUnreferenced
			e.wake()
			return dwarfserr.New(dwarfserr.KindCacheFull, dwarfserr.ErrCacheFull)
		}
		wait := c.capSignal
		c.mu.Unlock()
		<-wait
		c.mu.Lock()
	}
	c.residentBytes += need
	return nil
}

// evictOneLocked evicts the least-recently-used unpinned READY block,
// per spec.md Section 4.3.3. Returns false if no candidate exists.
// c.mu must be held.
func (c *Cache) evictOneLocked() bool {
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok || e.state != stateReady || e.pinCount != 0 {
			continue
		}
		c.evictLocked(e)
		return true
	}
	return false
}

// evictLocked releases e's decoded buffer and returns it to
// stateEvicted. Callers must have already checked e is an unpinned
// READY block and must hold c.mu.
func (c *Cache) evictLocked(e *entry) {
	c.residentBytes -= uint64(e.section.UncompressedSize)
	e.buffer = nil
	e.decoder = nil
	e.state = stateEvicted
	e.wake()
}

// unpin decrements a block's pin count and wakes anything waiting on
// cache capacity.
func (c *Cache) unpin(blockNo uint32) {
	c.mu.Lock()
	if e, ok := c.lru.Peek(blockNo); ok && e.pinCount > 0 {
		e.pinCount--
	}
	old := c.capSignal
	c.capSignal = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

// launchDecode starts (or joins) the single decode worker for e,
// bounded by the worker-pool semaphore and guarded by a singleflight
// group keyed by block number as a belt-and-suspenders backstop against
// the per-block state machine ever being asked to double-launch, per
// spec.md Section 9 ("do not spawn work per get").
func (c *Cache) launchDecode(e *entry) {
	key := fmt.Sprintf("%d", e.blockNo)
	c.mu.Lock()
	sem := c.sem
	c.mu.Unlock()
	go func() {
		sem <- struct{}{}
		defer func() { <-sem }()
		_, _, _ = c.sf.Do(key, func() (interface{}, error) {
			c.decodeWorker(e)
			return nil, nil
		})
	}()
}

// decodeWorker owns e's decompressor from PENDING through READY,
// appending frames sized to the largest outstanding waiter's need
// (spec.md Section 4.3.4). It runs without holding c.mu except while
// touching e's shared fields.
func (c *Cache) decodeWorker(e *entry) {
	c.mu.Lock()
	decoder, err := e.section.Codec.NewDecoder(e.section.Compressed, e.section.UncompressedSize, e.section.Metadata)
	if err != nil {
		e.err = fmt.Errorf("blockcache: block %d: %w", e.blockNo, err)
		e.state = stateReady
		e.wake()
		c.mu.Unlock()
		return
	}
	e.decoder = decoder
	e.buffer = make([]byte, 0, e.section.UncompressedSize)
	e.state = stateDecoding
	e.wake()
	c.mu.Unlock()

	for {
		c.mu.Lock()
		frameSize := c.chooseFrameSizeLocked(e)
		c.mu.Unlock()

		frame, done, err := decoder.DecompressFrame(frameSize)

		c.mu.Lock()
		if err != nil {
			e.err = fmt.Errorf("blockcache: block %d: %w", e.blockNo, err)
			e.state = stateReady
			e.decoder = nil
			e.wake()
			c.mu.Unlock()
			return
		}
		e.buffer = append(e.buffer, frame...)
		if done {
			e.state = stateReady
			e.decoder = nil
			e.wake()
			c.mu.Unlock()
			return
		}
		e.wake()
		c.mu.Unlock()
	}
}

// chooseFrameSizeLocked picks the next decode frame size: large enough
// to satisfy the currently-parked waiters that have registered a
// need via Future.Wait, never smaller than defaultFrameSize, and never
// larger than the bytes remaining to decode. c.mu must be held.
func (c *Cache) chooseFrameSizeLocked(e *entry) int {
	remaining := e.section.UncompressedSize - len(e.buffer)
	want := defaultFrameSize
	if e.needed-len(e.buffer) > want {
		want = e.needed - len(e.buffer)
	}
	if want > remaining {
		want = remaining
	}
	if want < 0 {
		want = 0
	}
	return want
}

func (c *Cache) startTidy() {
	c.mu.Lock()
	cfg := c.tidy
	stop := make(chan struct{})
	done := make(chan struct{})
	c.tidyStop = stop
	c.tidyDone = done
	cl := c.clock
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := cl.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.tidySweep(cfg.MaxAge)
			}
		}
	}()
}

func (c *Cache) stopTidyLocked() {
	c.mu.Lock()
	stop := c.tidyStop
	done := c.tidyDone
	c.tidyStop = nil
	c.tidyDone = nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// tidySweep evicts unpinned READY blocks idle longer than maxAge, per
// spec.md Section 4.3.3's idle-tidy background task.
func (c *Cache) tidySweep(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok || e.state != stateReady || e.pinCount != 0 {
			continue
		}
		if now.Sub(e.lastAccess) <= maxAge {
			continue
		}
		c.evictLocked(e)
	}
}

// Close stops the idle-tidy background task, if running.
func (c *Cache) Close() {
	c.stopTidyLocked()
}
