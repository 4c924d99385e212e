package writer

import (
	"bytes"
	"context"
	"testing"

	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
)

func buildTestImage(t *testing.T) (*Options, []byte) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "a.txt", bytes.Repeat([]byte("hello world "), 4096))
	writeFile(t, root, "b.txt", []byte("a much smaller file"))

	opts := baseOptions(root)
	opts.DefaultCodec = CompressionBinding{Codec: "lz4"}
	var buf bytes.Buffer
	if _, err := Build(context.Background(), opts, &buf); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return opts, buf.Bytes()
}

// TestRecompressNoneCopiesVerbatim checks that --recompress=none passes
// the image through byte-for-byte, per spec.md Section 4.2's
// "Recompress mode".
func TestRecompressNoneCopiesVerbatim(t *testing.T) {
	opts, image := buildTestImage(t)
	var out bytes.Buffer
	if _, err := Recompress(context.Background(), opts, RecompressNone, RecompressCategories{}, image, opts.StrongChecksums, &out); err != nil {
		t.Fatalf("Recompress: %v", err)
	}
	if !bytes.Equal(out.Bytes(), image) {
		t.Fatalf("expected --recompress=none to copy the image verbatim")
	}
}

// TestRecompressAllReparsesCleanly checks that a fully recompressed
// image still parses into a section index that tiles the body exactly.
func TestRecompressAllReparsesCleanly(t *testing.T) {
	opts, image := buildTestImage(t)
	var out bytes.Buffer
	stats, err := Recompress(context.Background(), opts, RecompressAll, RecompressCategories{}, image, opts.StrongChecksums, &out)
	if err != nil {
		t.Fatalf("Recompress: %v", err)
	}
	if stats.Blocks == 0 {
		t.Fatalf("expected at least one recompressed block")
	}

	sections, err := splitSections(out.Bytes(), opts.StrongChecksums)
	if err != nil {
		t.Fatalf("splitSections: %v", err)
	}
	if sections[len(sections)-1].Header.Type != dwarfsfmt.SectionIndex {
		t.Fatalf("expected trailing section to be the index")
	}
	indexEntries, err := dwarfsfmt.DecodeIndex(sections[len(sections)-1].Payload)
	if err != nil {
		t.Fatalf("DecodeIndex: %v", err)
	}
	var indexOffset uint64
	for _, s := range sections[:len(sections)-1] {
		indexOffset += uint64(dwarfsfmt.HeaderSize(opts.StrongChecksums)) + uint64(len(s.Payload))
	}
	if err := dwarfsfmt.VerifyTiling(indexEntries, 0, indexOffset); err != nil {
		t.Fatalf("VerifyTiling: %v", err)
	}
}

// TestRecompressMetadataKeepsBlockBytes checks that --recompress=metadata
// leaves every block section's stored payload untouched.
func TestRecompressMetadataKeepsBlockBytes(t *testing.T) {
	opts, image := buildTestImage(t)
	before, err := splitSections(image, opts.StrongChecksums)
	if err != nil {
		t.Fatalf("splitSections: %v", err)
	}

	var out bytes.Buffer
	if _, err := Recompress(context.Background(), opts, RecompressMetadata, RecompressCategories{}, image, opts.StrongChecksums, &out); err != nil {
		t.Fatalf("Recompress: %v", err)
	}
	after, err := splitSections(out.Bytes(), opts.StrongChecksums)
	if err != nil {
		t.Fatalf("splitSections: %v", err)
	}

	beforeBlocks := filterType(before, dwarfsfmt.SectionBlock)
	afterBlocks := filterType(after, dwarfsfmt.SectionBlock)
	if len(beforeBlocks) != len(afterBlocks) {
		t.Fatalf("expected the same number of block sections, got %d and %d", len(beforeBlocks), len(afterBlocks))
	}
	for i := range beforeBlocks {
		if !bytes.Equal(beforeBlocks[i].Payload, afterBlocks[i].Payload) {
			t.Fatalf("block %d payload changed under --recompress=metadata", i)
		}
	}
}

func filterType(sections []section, t dwarfsfmt.SectionType) []section {
	var out []section
	for _, s := range sections {
		if s.Header.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// TestRecompressDetectsCorruption checks that flipping bits in a
// section header surfaces as the "input filesystem is corrupt" error
// path rather than a panic or silent misparse, per spec.md Section
// 4.2's "Bit-flipped headers must surface as input filesystem is
// corrupt".
func TestRecompressDetectsCorruption(t *testing.T) {
	opts, image := buildTestImage(t)
	corrupt := append([]byte{}, image...)
	corrupt[0] ^= 0xFF // flip a bit in the magic of the first section header

	var out bytes.Buffer
	_, err := Recompress(context.Background(), opts, RecompressAll, RecompressCategories{}, corrupt, opts.StrongChecksums, &out)
	if err == nil {
		t.Fatalf("expected a corrupt-header error, got nil")
	}
}

