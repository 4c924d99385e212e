package dwarfscodec

import "errors"

var (
	// ErrIncompressible is returned by Codec.Compress when the
	// compressed output would not be smaller than the input. The
	// writer pipeline applies the bad_compression_ratio policy from
	// spec.md Section 4.2 when it sees this error.
	ErrIncompressible = errors.New("bad_compression_ratio")

	// ErrCodecUnavailable is returned by stub codecs (lzma, brotli,
	// flac, ricepp) to satisfy spec.md Section 1's statement that
	// "the concrete compressor codecs ... are treated as named codecs
	// over a uniform interface" without requiring a real
	// implementation of every one.
	ErrCodecUnavailable = errors.New("codec not available in this build")

	ErrUnknownCodec = errors.New("unknown codec")
)
