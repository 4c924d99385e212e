package dwarfscodec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
)

// zstdCodec wraps klauspost/compress/zstd, grounded in the teacher's
// lib/artifactstore/compress.go package-level reused encoder/decoder
// pattern. Unlike the LZ4 codecs, zstd decoding here is genuinely
// frame-incremental: NewDecoder opens a streaming zstd.Reader over the
// compressed bytes and DecompressFrame pulls frameSize bytes at a
// time, matching spec.md Section 4.3.4 without decoding the whole
// block up front.
type zstdCodec struct {
	encoder *zstd.Encoder
}

func newZstdCodec() Codec {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("dwarfscodec: zstd encoder initialization failed: " + err.Error())
	}
	return &zstdCodec{encoder: enc}
}

func (*zstdCodec) Type() dwarfsfmt.CompressionType { return dwarfsfmt.CompressionZstd }

func (*zstdCodec) Available() bool { return true }

func (c *zstdCodec) Compress(data []byte, _ string) ([]byte, error) {
	compressed := c.encoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, ErrIncompressible
	}
	return compressed, nil
}

func (*zstdCodec) NewDecoder(compressed []byte, uncompressedSize int, _ string) (FrameDecoder, error) {
	r, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	return &zstdFrameDecoder{reader: r, remaining: uncompressedSize}, nil
}

type zstdFrameDecoder struct {
	reader    *zstd.Decoder
	remaining int
}

func (d *zstdFrameDecoder) DecompressFrame(frameSize int) ([]byte, bool, error) {
	if d.remaining <= 0 {
		d.reader.Close()
		return nil, true, nil
	}
	if frameSize > d.remaining {
		frameSize = d.remaining
	}
	buf := make([]byte, frameSize)
	n, err := io.ReadFull(d.reader, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, false, err
	}
	d.remaining -= n
	done := d.remaining <= 0
	if done {
		d.reader.Close()
	}
	return buf[:n], done, nil
}
