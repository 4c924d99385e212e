package dwarfscodec

import "github.com/CrazyForks/dwarfs/lib/dwarfsfmt"

// noneCodec is the identity codec: compression is a no-op copy. It is
// always available and is the writer's codec for any category with no
// binding. The writer never substitutes it for a codec that reports
// ErrIncompressible; that error aborts the build.
type noneCodec struct{}

func newNoneCodec() Codec { return noneCodec{} }

func (noneCodec) Type() dwarfsfmt.CompressionType { return dwarfsfmt.CompressionNone }

func (noneCodec) Available() bool { return true }

func (noneCodec) Compress(data []byte, _ string) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (noneCodec) NewDecoder(compressed []byte, uncompressedSize int, _ string) (FrameDecoder, error) {
	if len(compressed) != uncompressedSize {
		return nil, errSizeMismatch("none", uncompressedSize, len(compressed))
	}
	return &sliceFrameDecoder{data: compressed}, nil
}

// sliceFrameDecoder serves an already-decoded buffer frame-by-frame.
// Several of this package's codecs decode their entire input up front
// (cheap relative to I/O and unavoidable for block-mode LZ4, which has
// no streaming decode granularity) and then reveal it incrementally
// through this type so every codec honors the frame-incremental
// contract from spec.md Section 4.3.4 uniformly.
type sliceFrameDecoder struct {
	data     []byte
	revealed int
}

func (d *sliceFrameDecoder) DecompressFrame(frameSize int) ([]byte, bool, error) {
	if d.revealed >= len(d.data) {
		return nil, true, nil
	}
	end := d.revealed + frameSize
	if end > len(d.data) {
		end = len(d.data)
	}
	frame := d.data[d.revealed:end]
	d.revealed = end
	return frame, d.revealed >= len(d.data), nil
}
