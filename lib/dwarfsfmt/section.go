// Package dwarfsfmt implements the section envelope described in
// spec.md Section 4.1: the fixed-size framing that wraps every
// persisted region of a DwarFS image (blocks, metadata, history, the
// section index).
package dwarfsfmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/CrazyForks/dwarfs/lib/dwarfshash"
)

// Magic identifies the start of a section. Six bytes, chosen to be
// unlikely to occur at the start of arbitrary data.
var Magic = [6]byte{'D', 'W', 'A', 'R', 'F', 'S'}

const (
	FormatMajor uint8 = 2
	FormatMinor uint8 = 0

	// headerSize is magic(6) + major(1) + minor(1) + type(2) +
	// compression(2) + length(8) + fast_checksum(8) = 28 bytes. The
	// strong checksum (32 bytes) follows only when present.
	headerSize       = 28
	strongChecksumSize = 32
)

// SectionType identifies the kind of region a section carries.
type SectionType uint16

const (
	SectionBlock SectionType = iota
	SectionMetadataSchema
	SectionMetadata
	SectionHistory
	SectionIndex
)

func (t SectionType) String() string {
	switch t {
	case SectionBlock:
		return "block"
	case SectionMetadataSchema:
		return "metadata_v2_schema"
	case SectionMetadata:
		return "metadata_v2"
	case SectionHistory:
		return "history"
	case SectionIndex:
		return "section_index"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(t))
	}
}

// CompressionType identifies the codec that produced a section's
// payload. The concrete codec implementations live in
// lib/dwarfscodec; this package only needs the tag.
type CompressionType uint16

const (
	CompressionNone CompressionType = iota
	CompressionLZMA
	CompressionZstd
	CompressionLZ4
	CompressionLZ4HC
	CompressionBrotli
	CompressionFLAC
	CompressionRicepp
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZMA:
		return "lzma"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionLZ4HC:
		return "lz4hc"
	case CompressionBrotli:
		return "brotli"
	case CompressionFLAC:
		return "flac"
	case CompressionRicepp:
		return "ricepp"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(c))
	}
}

// CheckLevel controls how much verification Verify performs.
type CheckLevel int

const (
	CheckNone CheckLevel = iota
	CheckFast
	CheckFull
)

// Header is the fixed-size prefix of every section.
type Header struct {
	Type             SectionType
	Compression      CompressionType
	Length           uint64 // length of the payload, in bytes, as stored (compressed)
	FastChecksum     uint64
	HasStrongChecksum bool
	StrongChecksum   [32]byte
}

// Write encodes a section (header + payload) to w. includeStrong
// controls whether a strong checksum is computed and written; the
// strong checksum covers the 28 header bytes from magic through the
// fast checksum (everything but the strong checksum itself) plus
// payload.
func Write(w io.Writer, sectionType SectionType, compression CompressionType, payload []byte, includeStrong bool) (Header, error) {
	header := Header{
		Type:             sectionType,
		Compression:      compression,
		Length:           uint64(len(payload)),
		FastChecksum:     dwarfshash.FastChecksum(payload),
		HasStrongChecksum: includeStrong,
	}

	buf := EncodeHeaderBytes(header)

	if includeStrong {
		header.StrongChecksum = dwarfshash.StrongChecksum(append(append([]byte{}, buf...), payload...))
	}

	if _, err := w.Write(buf); err != nil {
		return header, fmt.Errorf("writing section header: %w", err)
	}
	if includeStrong {
		if _, err := w.Write(header.StrongChecksum[:]); err != nil {
			return header, fmt.Errorf("writing strong checksum: %w", err)
		}
	}
	if _, err := w.Write(payload); err != nil {
		return header, fmt.Errorf("writing section payload: %w", err)
	}
	return header, nil
}

// EncodeHeaderBytes encodes the fixed-size, strong-checksum-excluded
// prefix of a section header — magic through fast_checksum — matching
// exactly the header bytes Write hashes, together with the payload,
// when computing a strong checksum. Verify's caller reconstructs the
// same bytes from a parsed Header to re-check a strong checksum
// without needing to keep the original on-disk header bytes around.
func EncodeHeaderBytes(header Header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:6], Magic[:])
	buf[6] = FormatMajor
	buf[7] = FormatMinor
	binary.LittleEndian.PutUint16(buf[8:10], uint16(header.Type))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(header.Compression))
	binary.LittleEndian.PutUint64(buf[12:20], header.Length)
	binary.LittleEndian.PutUint64(buf[20:28], header.FastChecksum)
	return buf
}

// ReadHeader parses a section header from the start of data, assuming
// no strong checksum follows (the returned Header has
// HasStrongChecksum false). The envelope carries no flag saying whether
// a strong checksum is present (images are built with a single, fixed
// convention), so the caller decides; ReadHeaderStrong reads assuming
// a strong checksum follows.
func ReadHeader(data []byte) (Header, error) {
	return readHeader(data, false)
}

// ReadHeaderStrong parses a section header that is followed by a
// 32-byte strong checksum.
func ReadHeaderStrong(data []byte) (Header, error) {
	return readHeader(data, true)
}

func readHeader(data []byte, strong bool) (Header, error) {
	var h Header
	if len(data) < headerSize {
		return h, fmt.Errorf("%w: section header needs %d bytes, have %d", ErrTruncated, headerSize, len(data))
	}
	if !bytes.Equal(data[0:6], Magic[:]) {
		return h, fmt.Errorf("%w: bad magic", ErrCorruptHeader)
	}
	major := data[6]
	if major != FormatMajor {
		return h, fmt.Errorf("%w: unsupported format major version %d", ErrCorruptHeader, major)
	}
	h.Type = SectionType(binary.LittleEndian.Uint16(data[8:10]))
	h.Compression = CompressionType(binary.LittleEndian.Uint16(data[10:12]))
	h.Length = binary.LittleEndian.Uint64(data[12:20])
	h.FastChecksum = binary.LittleEndian.Uint64(data[20:28])

	if strong {
		if len(data) < headerSize+strongChecksumSize {
			return h, fmt.Errorf("%w: strong checksum needs %d bytes, have %d", ErrTruncated, strongChecksumSize, len(data)-headerSize)
		}
		copy(h.StrongChecksum[:], data[headerSize:headerSize+strongChecksumSize])
		h.HasStrongChecksum = true
	}
	return h, nil
}

// HeaderSize returns the on-disk size of a header, including the
// strong checksum if present.
func HeaderSize(hasStrong bool) int {
	if hasStrong {
		return headerSize + strongChecksumSize
	}
	return headerSize
}

// Verify checks payload integrity against header at the requested
// level. CheckNone always succeeds. CheckFast verifies the fast
// checksum. CheckFull additionally verifies the strong checksum, if
// present; if the header has no strong checksum, CheckFull behaves
// like CheckFast.
func Verify(header Header, headerBytes, payload []byte, level CheckLevel) error {
	if level == CheckNone {
		return nil
	}
	if dwarfshash.FastChecksum(payload) != header.FastChecksum {
		return fmt.Errorf("%w: section type %s", ErrBadFastChecksum, header.Type)
	}
	if level == CheckFull && header.HasStrongChecksum {
		got := dwarfshash.StrongChecksum(append(append([]byte{}, headerBytes...), payload...))
		if got != header.StrongChecksum {
			return fmt.Errorf("%w: section type %s", ErrBadStrongChecksum, header.Type)
		}
	}
	return nil
}

// ScanForMagic locates the first occurrence of Magic within data,
// bounded to the first searchLimit bytes (pass len(data) to search the
// whole buffer). Used by the reader to auto-detect the image offset
// when no explicit --image-offset is given (spec.md Section 4.1,
// "Image offset").
func ScanForMagic(data []byte, searchLimit int) (int, bool) {
	if searchLimit > len(data) {
		searchLimit = len(data)
	}
	idx := bytes.Index(data[:searchLimit], Magic[:])
	if idx < 0 {
		return 0, false
	}
	return idx, true
}
