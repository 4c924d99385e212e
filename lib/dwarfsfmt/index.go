package dwarfsfmt

import (
	"encoding/binary"
	"fmt"
)

// IndexEntry records the location of one non-index section within the
// image. The section index (always the terminal section) lists one
// entry per section in emission order; it is the authoritative index
// per spec.md Section 3.
type IndexEntry struct {
	Type   SectionType
	Offset uint64
	Length uint64 // total on-disk length, including this section's own header
}

const indexEntrySize = 2 + 8 + 8 // type(2) | offset(8) | length(8)

// EncodeIndex serializes a slice of IndexEntry into the payload bytes
// for a SectionIndex section.
func EncodeIndex(entries []IndexEntry) []byte {
	buf := make([]byte, len(entries)*indexEntrySize)
	for i, e := range entries {
		off := i * indexEntrySize
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(e.Type))
		binary.LittleEndian.PutUint64(buf[off+2:off+10], e.Offset)
		binary.LittleEndian.PutUint64(buf[off+10:off+18], e.Length)
	}
	return buf
}

// DecodeIndex parses the payload of a SectionIndex section.
func DecodeIndex(payload []byte) ([]IndexEntry, error) {
	if len(payload)%indexEntrySize != 0 {
		return nil, fmt.Errorf("%w: section index payload length %d is not a multiple of %d", ErrCorruptHeader, len(payload), indexEntrySize)
	}
	count := len(payload) / indexEntrySize
	entries := make([]IndexEntry, count)
	for i := range entries {
		off := i * indexEntrySize
		entries[i] = IndexEntry{
			Type:   SectionType(binary.LittleEndian.Uint16(payload[off : off+2])),
			Offset: binary.LittleEndian.Uint64(payload[off+2 : off+10]),
			Length: binary.LittleEndian.Uint64(payload[off+10 : off+18]),
		}
	}
	return entries, nil
}

// VerifyTiling checks the "Section index" testable property from
// spec.md Section 8: offsets and lengths tile [headerEnd, indexOffset)
// exactly, with no gaps and no overlaps.
func VerifyTiling(entries []IndexEntry, headerEnd, indexOffset uint64) error {
	expect := headerEnd
	for i, e := range entries {
		if e.Offset != expect {
			return fmt.Errorf("section index entry %d: expected offset %d, got %d (gap or overlap)", i, expect, e.Offset)
		}
		expect += e.Length
	}
	if expect != indexOffset {
		return fmt.Errorf("section index does not tile up to the index offset: tiled to %d, index starts at %d", expect, indexOffset)
	}
	return nil
}
