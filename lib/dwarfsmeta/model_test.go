package dwarfsmeta

import "testing"

func sampleMetadata() Metadata {
	return Metadata{
		Ranges: []InodeRange{
			{Kind: KindDirectory, First: 0, Count: 2},
			{Kind: KindRegular, First: 2, Count: 3},
			{Kind: KindSymlink, First: 5, Count: 1},
		},
		Inodes: []InodeInfo{
			{Number: 0, Kind: KindDirectory, Size: 0},
			{Number: 1, Kind: KindDirectory, Size: 0},
			{Number: 2, Kind: KindRegular, Size: 10, Chunks: []Chunk{{Block: 0, Offset: 0, Length: 10}}},
			{Number: 3, Kind: KindRegular, Size: 0},
			{Number: 4, Kind: KindRegular, Size: 20, Chunks: []Chunk{{Block: 0, Offset: 10, Length: 20}}},
			{Number: 5, Kind: KindSymlink, Size: 0, SymlinkTarget: 0},
		},
		Directories: []DirEntry{
			{NameIndex: 0, Inode: 1, ParentInode: 0},
		},
		Names: []string{"sub"},
	}
}

func blockSizer(m map[uint32]uint64) func(uint32) (uint64, bool) {
	return func(b uint32) (uint64, bool) {
		v, ok := m[b]
		return v, ok
	}
}

func TestKindMembership(t *testing.T) {
	m := sampleMetadata()
	if !m.IsDir(0) || !m.IsDir(1) {
		t.Fatalf("expected inodes 0,1 to be directories")
	}
	if !m.IsRegular(2) || !m.IsRegular(3) || !m.IsRegular(4) {
		t.Fatalf("expected inodes 2-4 to be regular files")
	}
	if !m.IsSymlink(5) {
		t.Fatalf("expected inode 5 to be a symlink")
	}
	if m.IsRegular(5) || m.IsDir(5) {
		t.Fatalf("inode 5 should only match one kind")
	}
}

func TestValidateAcceptsConsistentMetadata(t *testing.T) {
	m := sampleMetadata()
	sizer := blockSizer(map[uint32]uint64{0: 30})
	if err := m.Validate(sizer); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsOutOfRangeChunk(t *testing.T) {
	m := sampleMetadata()
	m.Inodes[2].Chunks[0].Length = 1000
	sizer := blockSizer(map[uint32]uint64{0: 30})
	if err := m.Validate(sizer); err == nil {
		t.Fatalf("expected out-of-range chunk to be rejected")
	}
}

func TestValidateRejectsOverlappingRanges(t *testing.T) {
	m := sampleMetadata()
	m.Ranges = append(m.Ranges, InodeRange{Kind: KindDevice, First: 2, Count: 1})
	sizer := blockSizer(map[uint32]uint64{0: 30})
	if err := m.Validate(sizer); err == nil {
		t.Fatalf("expected overlapping inode ranges to be rejected")
	}
}

func TestValidateRejectsSizeMismatch(t *testing.T) {
	m := sampleMetadata()
	m.Inodes[4].Size = 999
	sizer := blockSizer(map[uint32]uint64{0: 30})
	if err := m.Validate(sizer); err == nil {
		t.Fatalf("expected chunk-length/size mismatch to be rejected")
	}
}

func TestQuantizeBuckets(t *testing.T) {
	m := Metadata{BaseEpoch: 1000, TimeResolution: ResolutionMinute}
	if got := m.Quantize(1000); got != 0 {
		t.Fatalf("Quantize(base) = %d, want 0", got)
	}
	if got := m.Quantize(1130); got != 2 {
		t.Fatalf("Quantize(base+130s) = %d, want 2", got)
	}
}

func TestParseTimeResolution(t *testing.T) {
	for _, name := range []string{"sec", "min", "hour", "day"} {
		if _, err := ParseTimeResolution(name); err != nil {
			t.Fatalf("ParseTimeResolution(%q): %v", name, err)
		}
	}
	if _, err := ParseTimeResolution("bogus"); err == nil {
		t.Fatalf("expected error for invalid resolution")
	}
}

func TestSchemaRoundTrip(t *testing.T) {
	s := Schema{Version: SchemaVersion, PackFlags: PackAll}
	data, err := EncodeSchema(s)
	if err != nil {
		t.Fatalf("EncodeSchema: %v", err)
	}
	got, err := DecodeSchema(data)
	if err != nil {
		t.Fatalf("DecodeSchema: %v", err)
	}
	if got != s {
		t.Fatalf("schema round trip mismatch: got %+v want %+v", got, s)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	m := sampleMetadata()
	data, err := EncodeMetadata(m)
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}
	got, err := DecodeMetadata(data)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if len(got.Inodes) != len(m.Inodes) || len(got.Names) != len(m.Names) {
		t.Fatalf("metadata round trip mismatch: %+v", got)
	}
}

func TestPackFlagsParsing(t *testing.T) {
	f, err := ParsePackFlags("chunk_table,names")
	if err != nil {
		t.Fatalf("ParsePackFlags: %v", err)
	}
	if !f.Has(PackChunkTable) || !f.Has(PackNames) {
		t.Fatalf("expected chunk_table and names set, got %v", f.Names())
	}

	all, err := ParsePackFlags("all")
	if err != nil {
		t.Fatalf("ParsePackFlags(all): %v", err)
	}
	names := all.Names()
	want := map[string]bool{
		"packed_chunk_table":       true,
		"packed_directories":       true,
		"packed_names":             true,
		"packed_names_index":       true,
		"packed_shared_files_table": true,
		"packed_symlinks_index":    true,
	}
	if len(names) != len(want) {
		t.Fatalf("got %d names, want %d: %v", len(names), len(want), names)
	}
	for _, n := range names {
		if !want[n] {
			t.Fatalf("unexpected pack flag name %q", n)
		}
	}
}

func TestPackFlagsPlainDisablesNamePacking(t *testing.T) {
	f, err := ParsePackFlags("all,plain")
	if err != nil {
		t.Fatalf("ParsePackFlags: %v", err)
	}
	if f.Has(PackNames) || f.Has(PackNamesIndex) || f.Has(PackSymlinks) || f.Has(PackSymlinksIndex) {
		t.Fatalf("expected plain to disable all name/symlink packing, got %v", f.Names())
	}
}
