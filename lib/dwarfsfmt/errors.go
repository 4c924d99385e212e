package dwarfsfmt

import "errors"

// ErrCorruptHeader indicates a section header failed to parse (bad
// magic, unsupported version). ErrTruncated, ErrBadFastChecksum, and
// ErrBadStrongChecksum mirror the error kinds named in spec.md Section 7.
var (
	ErrCorruptHeader     = errors.New("corrupt_header")
	ErrTruncated         = errors.New("truncated")
	ErrBadFastChecksum   = errors.New("bad_fast_checksum")
	ErrBadStrongChecksum = errors.New("bad_strong_checksum")
)
