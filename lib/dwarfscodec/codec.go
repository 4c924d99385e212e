// Package dwarfscodec implements the polymorphic codec set named in
// spec.md Section 9: a name->factory registry exposing compress,
// frame-incremental decompress, and declared metadata/constraints for
// each compression algorithm named in Section 6.
package dwarfscodec

import (
	"fmt"

	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
)

// Codec is the capability set every compression algorithm implements.
// Metadata is an opaque, codec-specific string persisted alongside a
// block (e.g. PCM sample width for audio codecs); most codecs ignore
// it.
type Codec interface {
	Type() dwarfsfmt.CompressionType

	// Compress returns the compressed representation of data. Returns
	// ErrIncompressible if the codec declines because its output
	// would not be smaller, letting the caller apply the
	// bad_compression_ratio policy from spec.md Section 4.2.
	Compress(data []byte, metadata string) ([]byte, error)

	// NewDecoder returns a FrameDecoder bound to the given compressed
	// input and the declared uncompressed size, ready for
	// frame-incremental decoding (spec.md Section 4.3.4).
	NewDecoder(compressed []byte, uncompressedSize int, metadata string) (FrameDecoder, error)

	// Available reports whether this codec can actually
	// compress/decompress in this build. Stub codecs (lzma, brotli,
	// flac, ricepp — see stub.go) report false; their Compress and
	// NewDecoder methods return ErrCodecUnavailable.
	Available() bool
}

// FrameDecoder incrementally decompresses one block's worth of
// output, frameSize bytes at a time, per spec.md Section 4.3.4's
// decompress_frame contract.
type FrameDecoder interface {
	// DecompressFrame appends up to frameSize newly-decoded bytes to
	// the decoder's internal progress and returns the bytes decoded in
	// this call along with whether decoding is now complete.
	DecompressFrame(frameSize int) (frame []byte, done bool, err error)
}

// Registry is a name -> Codec mapping, seeded at startup per spec.md
// Section 9 ("The codec registry is a name->factory mapping seeded at
// startup").
type Registry struct {
	byType map[dwarfsfmt.CompressionType]Codec
	byName map[string]dwarfsfmt.CompressionType
}

// NewRegistry returns a Registry with every named codec registered:
// real implementations for none/lz4/lz4hc/zstd, boundary-contract-only
// stubs for lzma/brotli/flac/ricepp (see DESIGN.md for why those four
// have no real implementation in this build).
func NewRegistry() *Registry {
	r := &Registry{
		byType: make(map[dwarfsfmt.CompressionType]Codec),
		byName: map[string]dwarfsfmt.CompressionType{
			"none":   dwarfsfmt.CompressionNone,
			"lzma":   dwarfsfmt.CompressionLZMA,
			"zstd":   dwarfsfmt.CompressionZstd,
			"lz4":    dwarfsfmt.CompressionLZ4,
			"lz4hc":  dwarfsfmt.CompressionLZ4HC,
			"brotli": dwarfsfmt.CompressionBrotli,
			"flac":   dwarfsfmt.CompressionFLAC,
			"ricepp": dwarfsfmt.CompressionRicepp,
		},
	}
	for _, c := range []Codec{
		newNoneCodec(),
		newLZ4Codec(false),
		newLZ4Codec(true),
		newZstdCodec(),
		newStubCodec(dwarfsfmt.CompressionLZMA, "lzma"),
		newStubCodec(dwarfsfmt.CompressionBrotli, "brotli"),
		newStubCodec(dwarfsfmt.CompressionFLAC, "flac"),
		newStubCodec(dwarfsfmt.CompressionRicepp, "ricepp"),
	} {
		r.byType[c.Type()] = c
	}
	return r
}

// Lookup returns the codec registered for a name (e.g. "zstd").
func (r *Registry) Lookup(name string) (Codec, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", ErrUnknownCodec, name)
	}
	return r.ByType(t)
}

// ByType returns the codec registered for a CompressionType.
func (r *Registry) ByType(t dwarfsfmt.CompressionType) (Codec, error) {
	c, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: unregistered compression type %s", ErrUnknownCodec, t)
	}
	return c, nil
}

// Names returns the registered codec names, for --help text and
// validation of -C cat::codec[:opts] option values.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
