package dwarfsmeta

import (
	"fmt"

	"github.com/CrazyForks/dwarfs/lib/codec"
)

// SchemaVersion is this package's on-disk metadata format version.
const SchemaVersion = 1

// Schema describes the packed-metadata section's field layout and
// version, per spec.md Section 3's "Metadata is emitted in two
// sections: a schema ... and the packed metadata itself; both
// compressed independently." The schema is tiny and mostly static;
// its purpose is letting a future reader detect format drift without
// having to parse the (possibly much larger) packed metadata blob.
type Schema struct {
	Version   int       `cbor:"version"`
	PackFlags PackFlags `cbor:"pack_flags"`
}

// EncodeSchema serializes a Schema to CBOR using Core Deterministic
// Encoding, grounded in the teacher's lib/codec.Marshal /
// lib/artifact/reconstruction.go MarshalReconstruction pattern.
func EncodeSchema(s Schema) ([]byte, error) {
	data, err := codec.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata schema: %w", err)
	}
	return data, nil
}

// DecodeSchema parses a Schema section payload.
func DecodeSchema(data []byte) (Schema, error) {
	var s Schema
	if err := codec.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decoding metadata schema: %w", err)
	}
	if s.Version > SchemaVersion {
		return s, fmt.Errorf("metadata schema version %d is newer than supported version %d", s.Version, SchemaVersion)
	}
	return s, nil
}

// wireMetadata is the CBOR wire shape for Metadata. Kept separate from
// Metadata itself so the exported type's field order/comments can
// evolve without touching the deterministic wire encoding tags.
type wireMetadata struct {
	Ranges         []InodeRange   `cbor:"ranges"`
	Inodes         []InodeInfo    `cbor:"inodes"`
	Directories    []DirEntry     `cbor:"directories"`
	Names          []string       `cbor:"names"`
	BaseEpoch      int64          `cbor:"base_epoch"`
	TimeResolution  TimeResolution `cbor:"time_resolution"`
	BlockSizes      []uint64       `cbor:"block_sizes"`
	BlockCategories []string       `cbor:"block_categories"`
}

// EncodeMetadata serializes the packed-metadata section payload.
func EncodeMetadata(m Metadata) ([]byte, error) {
	w := wireMetadata{
		Ranges:          m.Ranges,
		Inodes:          m.Inodes,
		Directories:     m.Directories,
		Names:           m.Names,
		BaseEpoch:       m.BaseEpoch,
		TimeResolution:  m.TimeResolution,
		BlockSizes:      m.BlockSizes,
		BlockCategories: m.BlockCategories,
	}
	data, err := codec.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding packed metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata parses the packed-metadata section payload.
func DecodeMetadata(data []byte) (Metadata, error) {
	var w wireMetadata
	if err := codec.Unmarshal(data, &w); err != nil {
		return Metadata{}, fmt.Errorf("decoding packed metadata: %w", err)
	}
	return Metadata{
		Ranges:          w.Ranges,
		Inodes:          w.Inodes,
		Directories:     w.Directories,
		Names:           w.Names,
		BaseEpoch:       w.BaseEpoch,
		TimeResolution:  w.TimeResolution,
		BlockSizes:      w.BlockSizes,
		BlockCategories: w.BlockCategories,
	}, nil
}
