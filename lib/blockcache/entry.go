package blockcache

import (
	"time"

	"github.com/CrazyForks/dwarfs/lib/dwarfscodec"
)

// state is a block's position in the UNREFERENCED -> PENDING ->
// DECODING -> READY -> EVICTED state machine from spec.md Section
// 4.3.2.
type state int

const (
	stateUnreferenced state = iota
	statePending
	stateDecoding
	stateReady
	stateEvicted
)

// Section is the compressed payload registered for one block via
// Insert, per spec.md Section 4.3.1's "insert(section) registers the
// compressed section for block index section.block_no".
type Section struct {
	BlockNo          uint32
	Compressed       []byte
	Codec            dwarfscodec.Codec
	UncompressedSize int
	Metadata         string
}

// entry is the cache's bookkeeping for one block. All fields are
// guarded by the owning Cache's mutex except buffer's already-written
// prefix, which is only appended to by the single worker goroutine
// that owns the block while it is in stateDecoding — readers observe
// it only after re-checking state/len(buffer) under the mutex.
type entry struct {
	blockNo uint32
	section Section

	state state
	// buffer accumulates decoded bytes as frames complete. Its
	// capacity is fixed at section.UncompressedSize up front so that
	// pointer-stable slices handed out as Range views remain valid
	// even as later frames extend buffer's length.
	buffer []byte

	decoder dwarfscodec.FrameDecoder
	err     error // set if decoding failed; sticky

	pinCount   int
	lastAccess time.Time

	// needed is the largest offset+length registered by a waiter
	// still parked in Future.Wait. The decode worker uses it to pick
	// frame sizes that satisfy outstanding waiters in as few calls as
	// possible (spec.md Section 4.3.4).
	needed int

	// signal is closed and replaced every time state or len(buffer)
	// changes, waking any Future.Wait loops parked on it. Broadcast
	// via close-and-replace rather than sync.Cond so waiters can
	// select on it alongside a context's Done channel.
	signal chan struct{}
}

func newEntry(section Section) *entry {
	return &entry{
		blockNo: section.BlockNo,
		section: section,
		state:   stateUnreferenced,
		signal:  make(chan struct{}),
	}
}

// wake closes the current signal channel and installs a fresh one,
// releasing every goroutine parked in a select on the old channel.
// Callers must hold the cache mutex.
func (e *entry) wake() {
	close(e.signal)
	e.signal = make(chan struct{})
}

// satisfied reports whether the buffer already covers [offset,
// offset+length). Callers must hold the cache mutex.
func (e *entry) satisfied(offset, length int) bool {
	return len(e.buffer) >= offset+length
}
