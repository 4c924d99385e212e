// Package dwarfsmeta implements the packed metadata model from
// spec.md Section 3 and Section 6: inode ranges, directory entries,
// symlinks, names, and the chunk table that maps inode content to
// (block, offset, length) triples. Metadata is split into a schema
// section (this package's Schema type) and a packed-metadata section
// (Metadata), both CBOR-encoded via lib/codec's Core Deterministic
// Encoding mode, following the teacher's lib/artifact/reconstruction.go
// pattern.
package dwarfsmeta

import (
	"fmt"
	"sort"
)

// EntryKind distinguishes the four disjoint inode ranges named in
// spec.md Section 3's invariants: "Inode numbering is assigned such
// that regular files, directories, symlinks, and device/special
// inodes occupy disjoint contiguous ranges".
type EntryKind int

const (
	KindRegular EntryKind = iota
	KindDirectory
	KindSymlink
	KindDevice
)

// Chunk is a (block, offset, length) reference into a block's
// decompressed bytes, as defined in spec.md Section 3.
type Chunk struct {
	Block  uint32
	Offset uint32
	Length uint32
}

// InodeRange records the first inode number and count for one
// EntryKind. Ranges are contiguous and disjoint, so membership tests
// (IsRegular, IsDir, ...) are a single range compare, per spec.md
// Section 3's invariant.
type InodeRange struct {
	Kind  EntryKind
	First uint32
	Count uint32
}

func (r InodeRange) contains(ino uint32) bool {
	return ino >= r.First && ino < r.First+r.Count
}

// InodeInfo is a single inode's POSIX-visible attributes, frozen at
// emit time per spec.md Section 3's Inode entity.
type InodeInfo struct {
	Number uint32
	Mode   uint32
	UID    uint32
	GID    uint32
	// MTime, ATime, CTime are quantized timestamps (seconds since the
	// configured base epoch, at the configured resolution) per
	// spec.md Section 3's "Times are stored at a configurable
	// resolution" invariant.
	MTime uint64
	ATime uint64
	CTime uint64
	Size  uint64
	Kind  EntryKind

	// Chunks lists this inode's content in order, valid only for
	// KindRegular. A zero-length file has an empty Chunks slice (the
	// Open Question decision recorded in DESIGN.md: "a single empty
	// chunk is canonical" is realized as zero chunk-table entries, not
	// one zero-length entry, since no real (block,offset,length)
	// exists to record).
	Chunks []Chunk

	// SymlinkTarget holds the link target's name-table index, valid
	// only for KindSymlink.
	SymlinkTarget uint32

	// DeviceMajor/DeviceMinor are valid only for KindDevice.
	DeviceMajor uint32
	DeviceMinor uint32
}

// DirEntry is one (name, inode, parent) triple forming the directory
// tree, per spec.md Section 3.
type DirEntry struct {
	NameIndex   uint32
	Inode       uint32
	ParentInode uint32
}

// Metadata is the complete packed-metadata-section model: the inode
// table, directory entries, the name and symlink-target string
// tables, and the epoch/resolution used to quantize times.
type Metadata struct {
	Ranges       []InodeRange
	Inodes       []InodeInfo
	Directories  []DirEntry
	Names        []string
	BaseEpoch    int64
	TimeResolution TimeResolution

	// BlockSizes lists each block's decompressed size, indexed by block
	// number. The reader uses it to register blocks with the block
	// cache and to drive Validate's chunk-range checks.
	BlockSizes []uint64

	// BlockCategories lists each block's packing category, indexed by
	// block number (empty string for the default category). Recompress
	// uses this to honor --recompress-categories, since the section
	// envelope itself carries no per-block category tag.
	BlockCategories []string
}

// TimeResolution is the granularity at which mtimes/atimes/ctimes are
// stored, per spec.md Section 3.
type TimeResolution int

const (
	ResolutionSecond TimeResolution = iota
	ResolutionMinute
	ResolutionHour
	ResolutionDay
)

// ResolutionSeconds returns the number of seconds one unit of r spans.
func (r TimeResolution) ResolutionSeconds() int64 {
	switch r {
	case ResolutionMinute:
		return 60
	case ResolutionHour:
		return 3600
	case ResolutionDay:
		return 86400
	default:
		return 1
	}
}

// ParseTimeResolution validates a --time-resolution option value. A
// bare integer N is accepted as "N seconds" per spec.md Section 6.
func ParseTimeResolution(s string) (TimeResolution, error) {
	switch s {
	case "sec", "":
		return ResolutionSecond, nil
	case "min":
		return ResolutionMinute, nil
	case "hour":
		return ResolutionHour, nil
	case "day":
		return ResolutionDay, nil
	}
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid --time-resolution %q", s)
	}
	return TimeResolution(-n), nil
}

// Quantize converts epochSeconds (absolute Unix seconds) into whole
// resolution units since BaseEpoch, rounding down; times before
// BaseEpoch clamp to 0. Custom integer-second resolutions are encoded as negative
// TimeResolution values by ParseTimeResolution; ResolutionSeconds
// handles the named buckets only, so custom values are resolved here.
func (m Metadata) Quantize(epochSeconds int64) uint64 {
	res := m.TimeResolution.ResolutionSeconds()
	if int(m.TimeResolution) < 0 {
		res = int64(-m.TimeResolution)
	}
	rel := epochSeconds - m.BaseEpoch
	if rel < 0 {
		rel = 0
	}
	return uint64(rel / res)
}

// KindOf returns the EntryKind of an inode number by range lookup —
// the range-compare membership test spec.md Section 3 calls for,
// rather than a per-inode tag byte.
func (m Metadata) KindOf(ino uint32) (EntryKind, bool) {
	for _, r := range m.Ranges {
		if r.contains(ino) {
			return r.Kind, true
		}
	}
	return 0, false
}

// IsRegular, IsDir, IsSymlink, IsDevice are the range-compare
// membership tests named in spec.md Section 3.
func (m Metadata) IsRegular(ino uint32) bool { return m.is(ino, KindRegular) }
func (m Metadata) IsDir(ino uint32) bool     { return m.is(ino, KindDirectory) }
func (m Metadata) IsSymlink(ino uint32) bool { return m.is(ino, KindSymlink) }
func (m Metadata) IsDevice(ino uint32) bool  { return m.is(ino, KindDevice) }

func (m Metadata) is(ino uint32, want EntryKind) bool {
	k, ok := m.KindOf(ino)
	return ok && k == want
}

// BlockSizeFunc adapts BlockSizes into the lookup function Validate
// requires.
func (m Metadata) BlockSizeFunc() func(uint32) (uint64, bool) {
	return func(b uint32) (uint64, bool) {
		if int(b) >= len(m.BlockSizes) {
			return 0, false
		}
		return m.BlockSizes[b], true
	}
}

// Validate checks the structural invariants from spec.md Section 3:
// dense contiguous ranges, disjoint ranges, in-range chunk references
// relative to a block-size table supplied by the caller (the block
// cache or writer knows decompressed block sizes; this package does
// not), and directory parent references that resolve to real
// directory inodes.
func (m Metadata) Validate(blockSize func(block uint32) (uint64, bool)) error {
	if err := m.validateRanges(); err != nil {
		return err
	}
	for _, inode := range m.Inodes {
		if inode.Kind != KindRegular {
			continue
		}
		offset := uint64(0)
		for i, c := range inode.Chunks {
			size, ok := blockSize(c.Block)
			if !ok {
				return fmt.Errorf("inode %d chunk %d: references unknown block %d", inode.Number, i, c.Block)
			}
			if uint64(c.Offset)+uint64(c.Length) > size {
				return fmt.Errorf("inode %d chunk %d: range [%d,%d) exceeds block %d size %d",
					inode.Number, i, c.Offset, c.Offset+c.Length, c.Block, size)
			}
			offset += uint64(c.Length)
		}
		if offset != inode.Size {
			return fmt.Errorf("inode %d: chunk lengths sum to %d, want size %d", inode.Number, offset, inode.Size)
		}
	}
	for i, d := range m.Directories {
		if int(d.NameIndex) >= len(m.Names) {
			return fmt.Errorf("directory entry %d: name index %d out of range", i, d.NameIndex)
		}
		if !m.IsDir(d.ParentInode) && d.ParentInode != 0 {
			return fmt.Errorf("directory entry %d: parent inode %d is not a directory", i, d.ParentInode)
		}
	}
	return nil
}

func (m Metadata) validateRanges() error {
	sorted := append([]InodeRange{}, m.Ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].First < sorted[j].First })
	// Ranges must be dense (§3: "Block indices are dense and
	// contiguous starting at 0" applies to blocks; inode ranges must
	// likewise be disjoint and contiguous across the whole space).
	for i := range sorted {
		for j := range sorted {
			if i == j {
				continue
			}
			a, b := sorted[i], sorted[j]
			if a.First < b.First+b.Count && b.First < a.First+a.Count {
				return fmt.Errorf("inode ranges for kinds %d and %d overlap", a.Kind, b.Kind)
			}
		}
	}
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1]
		if sorted[i].First != prev.First+prev.Count {
			return fmt.Errorf("inode ranges for kinds %d and %d are not contiguous", prev.Kind, sorted[i].Kind)
		}
	}
	return nil
}
