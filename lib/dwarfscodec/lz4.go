package dwarfscodec

import (
	"github.com/pierrec/lz4/v4"

	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
)

// lz4Codec wraps the pierrec/lz4 block API, grounded in the teacher's
// lib/artifactstore/compress.go compressLZ4/decompressLZ4 pair. The hc
// variant uses the same wire format (plain LZ4 block compression) but
// spends more CPU at compress time via CompressBlockHC for a better
// ratio, matching spec.md Section 6's distinct lz4/lz4hc codec names.
type lz4Codec struct {
	hc bool
}

func newLZ4Codec(hc bool) Codec { return lz4Codec{hc: hc} }

func (c lz4Codec) Type() dwarfsfmt.CompressionType {
	if c.hc {
		return dwarfsfmt.CompressionLZ4HC
	}
	return dwarfsfmt.CompressionLZ4
}

func (lz4Codec) Available() bool { return true }

func (c lz4Codec) Compress(data []byte, _ string) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	dst := make([]byte, bound)

	var written int
	var err error
	if c.hc {
		written, err = lz4.CompressBlockHC(data, dst, lz4.Level9, nil, nil)
	} else {
		written, err = lz4.CompressBlock(data, dst, nil)
	}
	if err != nil {
		return nil, err
	}
	if written == 0 || written >= len(data) {
		return nil, ErrIncompressible
	}
	return dst[:written], nil
}

func (c lz4Codec) NewDecoder(compressed []byte, uncompressedSize int, _ string) (FrameDecoder, error) {
	dst := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(compressed, dst)
	if err != nil {
		return nil, err
	}
	if n != uncompressedSize {
		return nil, errSizeMismatch(c.Type().String(), uncompressedSize, n)
	}
	return &sliceFrameDecoder{data: dst}, nil
}
