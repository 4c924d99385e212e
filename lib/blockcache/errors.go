package blockcache

import (
	"errors"
	"time"
)

// ErrUnknownBlock is returned by Get when no section has been
// registered for the requested block number.
var ErrUnknownBlock = errors.New("blockcache: unknown block")

// ErrCancelled is returned by Future.Wait when its context is
// cancelled before the requested range becomes available.
var ErrCancelled = errors.New("blockcache: wait cancelled")

// CacheFullPolicy selects what Get does when admitting a block
// would exceed max_bytes and no unpinned READY block can be evicted to
// make room, per spec.md Section 4.3.3.
type CacheFullPolicy int

const (
	// PolicyBlock waits for a pin to be released (the default).
	PolicyBlock CacheFullPolicy = iota
	// PolicyFail returns dwarfserr.ErrCacheFull immediately.
	PolicyFail
)

// TidyStrategy selects the idle-eviction background behavior.
type TidyStrategy int

const (
	TidyNone TidyStrategy = iota
	TidyExpire
)

// TidyConfig configures the idle-tidy background task (spec.md
// Section 4.3.3).
type TidyConfig struct {
	Strategy TidyStrategy
	Interval time.Duration // period between sweeps
	MaxAge   time.Duration // unpinned READY blocks older than this are evicted
}
