// Package dwarfserr defines the error-kind taxonomy shared by every
// DwarFS component, and the mapping from kinds to process exit codes.
package dwarfserr

import "errors"

// Kind classifies an error for exit-code mapping and for callers that
// need to branch on failure category (e.g. the block cache routing a
// codec error to only the affected futures).
type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindCorrupt
	KindBadArgs
	KindCodec
	KindRecursiveInclude
	KindCacheFull
	KindNotFound
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindCorrupt:
		return "corrupt"
	case KindBadArgs:
		return "bad_args"
	case KindCodec:
		return "codec"
	case KindRecursiveInclude:
		return "recursive_include"
	case KindCacheFull:
		return "cache_full"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// kindError wraps an underlying error with a Kind so errors.As can
// recover it through any number of fmt.Errorf("%w", ...) wrappings.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// New returns an error of the given kind wrapping err. If err is nil,
// New returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Of returns the Kind attached to err by New, walking the Unwrap
// chain. Returns KindUnknown if no kindError is found.
func Of(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// Sentinels usable with errors.Is for the common terminal conditions
// named in spec.md Section 7.
var (
	ErrCorrupt          = errors.New("input filesystem is corrupt")
	ErrTruncated        = errors.New("truncated section")
	ErrBadFastChecksum  = errors.New("fast checksum mismatch")
	ErrBadStrongChecksum = errors.New("strong checksum mismatch")
	ErrBadCompressionRatio = errors.New("compressed output is not smaller than input")
	ErrCacheFull        = errors.New("block cache is full")
	ErrNotFound         = errors.New("not found")
	ErrRecursiveInclude = errors.New("recursive filter rule include detected")
)

// ExitCode maps a Kind to the process exit code convention from
// spec.md Section 6: 0 success, 1 user/IO error, 2 well-formed-but-absent.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrNotFound) {
		return 2
	}
	switch Of(err) {
	case KindNotFound:
		return 2
	default:
		return 1
	}
}
