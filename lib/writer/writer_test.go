package writer

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/CrazyForks/dwarfs/lib/dwarfscodec"
	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
	"github.com/CrazyForks/dwarfs/lib/dwarfsmeta"
	"github.com/CrazyForks/dwarfs/lib/dwarfshash"
)

func baseOptions(root string) *Options {
	return &Options{
		Root:         root,
		BlockSizeExp: 16, // 64 KiB blocks
		FileHash:     dwarfshash.FileHashBlake3,
		Registry:     dwarfscodec.NewRegistry(),
		NumWorkers:   2,
	}
}

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// TestBuildRoundTrip builds a small synthetic tree, including a
// shared-content pair of files, and checks the image parses back into
// a section index that tiles the body exactly, per spec.md Section 8's
// "Section index" testable property.
func TestBuildRoundTrip(t *testing.T) {
	root := t.TempDir()
	shared := bytes.Repeat([]byte("shared-content-"), 8192) // > MinChunkSize
	writeFile(t, root, "a/one.txt", shared)
	writeFile(t, root, "b/two.txt", shared)
	writeFile(t, root, "unique.bin", []byte("not shared at all"))

	opts := baseOptions(root)
	var buf bytes.Buffer
	stats, err := Build(context.Background(), opts, &buf)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Blocks == 0 {
		t.Fatalf("expected at least one block")
	}

	body := buf.Bytes()
	offset, ok := dwarfsfmt.ScanForMagic(body, len(body))
	if !ok || offset != 0 {
		t.Fatalf("expected image to start with magic, got offset %d ok %v", offset, ok)
	}

	sections, err := splitSections(body, opts.StrongChecksums)
	if err != nil {
		t.Fatalf("splitSections: %v", err)
	}
	if sections[len(sections)-1].Header.Type != dwarfsfmt.SectionIndex {
		t.Fatalf("expected trailing section to be the index, got %s", sections[len(sections)-1].Header.Type)
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

// TestDedupPacksSharedContentOnce verifies that a chunk shared by two
// files via content-defined chunking is packed exactly once, not once
// per referencing file, per spec.md Section 4.2 stage 3.
func TestDedupPacksSharedContentOnce(t *testing.T) {
	root := t.TempDir()
	shared := bytes.Repeat([]byte("duplicate-me-"), 8192)
	writeFile(t, root, "a/one.txt", shared)
	writeFile(t, root, "b/two.txt", shared)

	opts := baseOptions(root)
	entries, err := Scan(opts)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	contents := make([][]byte, len(entries))
	for i, e := range entries {
		if e.Kind == dwarfsmeta.KindRegular {
			data, err := os.ReadFile(e.absPath)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			contents[i] = data
		}
	}

	fragments := Categorize(opts, entries, contents)
	unique, refs := Dedup(opts, contents, fragments)

	var oneIdx, twoIdx int = -1, -1
	for i, e := range entries {
		switch e.Path {
		case "a/one.txt":
			oneIdx = i
		case "b/two.txt":
			twoIdx = i
		}
	}
	if oneIdx == -1 || twoIdx == -1 {
		t.Fatalf("expected both files to be scanned")
	}
	if len(refs[oneIdx]) != len(refs[twoIdx]) {
		t.Fatalf("expected both files to reference the same number of chunks")
	}
	for i := range refs[oneIdx] {
		if refs[oneIdx][i].UniqueIndex != refs[twoIdx][i].UniqueIndex {
			t.Fatalf("chunk %d: expected identical files to share unique-chunk indices, got %d and %d",
				i, refs[oneIdx][i].UniqueIndex, refs[twoIdx][i].UniqueIndex)
		}
	}

	order := OrderChunks(opts, entries, unique)
	if len(order) != len(unique) {
		t.Fatalf("expected Order to place every unique chunk exactly once, got %d of %d", len(order), len(unique))
	}
	seenOnce := make(map[int]bool)
	for _, ui := range order {
		if seenOnce[ui] {
			t.Fatalf("unique chunk %d placed more than once by Order", ui)
		}
		seenOnce[ui] = true
	}

	blocks, pieces := Pack(opts, unique, order)
	if len(blocks) == 0 {
		t.Fatalf("expected at least one block")
	}
	totalPieceBytes := 0
	for _, ps := range pieces {
		for _, p := range ps {
			totalPieceBytes += int(p.Length)
		}
	}
	totalBlockBytes := 0
	for _, b := range blocks {
		totalBlockBytes += len(b.Data)
	}
	if totalPieceBytes != totalBlockBytes {
		t.Fatalf("piece byte total %d does not match packed block byte total %d; dedup may have duplicated bytes",
			totalPieceBytes, totalBlockBytes)
	}
}

// TestOrderDeterministic checks that path and revpath orderings are
// stable and mutually reversed, per spec.md Section 4.2 stage 4's
// determinism requirement.
func TestOrderDeterministic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "c.txt", []byte("ccc"))
	writeFile(t, root, "a.txt", []byte("aaa"))
	writeFile(t, root, "b.txt", []byte("bbb"))

	opts := baseOptions(root)
	entries, err := Scan(opts)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	contents := make([][]byte, len(entries))
	for i, e := range entries {
		if e.Kind == dwarfsmeta.KindRegular {
			data, err := os.ReadFile(e.absPath)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			contents[i] = data
		}
	}
	fragments := Categorize(opts, entries, contents)
	unique, _ := Dedup(opts, contents, fragments)

	opts.Order = OrderPath
	pathOrder := OrderChunks(opts, entries, unique)
	opts.Order = OrderRevPath
	revOrder := OrderChunks(opts, entries, unique)

	if len(pathOrder) != len(revOrder) {
		t.Fatalf("path and revpath orders differ in length: %d vs %d", len(pathOrder), len(revOrder))
	}
	n := len(pathOrder)
	for i := range pathOrder {
		if pathOrder[i] != revOrder[n-1-i] {
			t.Fatalf("expected revpath to be the exact reverse of path, mismatch at %d", i)
		}
	}

	// Re-running path ordering must reproduce the same permutation.
	opts.Order = OrderPath
	pathOrder2 := OrderChunks(opts, entries, unique)
	for i := range pathOrder {
		if pathOrder2[i] != pathOrder[i] {
			t.Fatalf("expected deterministic path ordering, mismatch at %d", i)
		}
	}
}

// TestPackBlockOffsetsMonotonic checks that chunk offsets within a
// block are strictly increasing, per spec.md Section 5.
func TestPackBlockOffsetsMonotonic(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, root, filepath.Join("f", string(rune('a'+i))+".bin"), bytes.Repeat([]byte{byte(i)}, 4096))
	}

	opts := baseOptions(root)
	opts.BlockSizeExp = 12 // 4 KiB blocks, forces many block boundaries
	entries, err := Scan(opts)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	contents := make([][]byte, len(entries))
	for i, e := range entries {
		if e.Kind == dwarfsmeta.KindRegular {
			data, err := os.ReadFile(e.absPath)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			contents[i] = data
		}
	}
	fragments := Categorize(opts, entries, contents)
	unique, _ := Dedup(opts, contents, fragments)
	order := OrderChunks(opts, entries, unique)
	_, pieces := Pack(opts, unique, order)

	for ui, ps := range pieces {
		byBlock := make(map[uint32][]uint32)
		for _, p := range ps {
			byBlock[p.Block] = append(byBlock[p.Block], p.Offset)
		}
		for block, offsets := range byBlock {
			for i := 1; i < len(offsets); i++ {
				if offsets[i] <= offsets[i-1] {
					t.Fatalf("chunk %d block %d: offsets not strictly increasing: %v", ui, block, offsets)
				}
			}
		}
	}
}

// TestBadCompressionRatioAbortsBuild verifies the recorded Open
// Question decision: bad_compression_ratio is a hard failure that
// aborts the build, not a silent fallback to the none codec.
func TestBadCompressionRatioAbortsBuild(t *testing.T) {
	root := t.TempDir()
	blob := make([]byte, 1<<16)
	if _, err := rand.Read(blob); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	writeFile(t, root, "random.bin", blob)

	opts := baseOptions(root)
	opts.DefaultCodec = CompressionBinding{Codec: "lz4"}

	var buf bytes.Buffer
	_, err := Build(context.Background(), opts, &buf)
	if err == nil {
		t.Fatalf("expected Build to fail on incompressible high-entropy content with lz4 bound as the default codec")
	}
}

// TestChmodNormCollapsesPermissions checks spec.md Section 8 scenario
// 3: --chmod=norm collapses every regular file's permissions to
// exactly {0444, 0555}.
func TestChmodNormCollapsesPermissions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "script.sh", []byte("#!/bin/sh\n"))
	if err := os.Chmod(filepath.Join(root, "script.sh"), 0o755); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	writeFile(t, root, "data.txt", []byte("hello"))
	if err := os.Chmod(filepath.Join(root, "data.txt"), 0o640); err != nil {
		t.Fatalf("Chmod: %v", err)
	}

	opts := baseOptions(root)
	opts.ChmodNorm = true
	entries, err := Scan(opts)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	seen := make(map[uint32]bool)
	for _, e := range entries {
		if e.Kind != dwarfsmeta.KindRegular {
			continue
		}
		seen[applyChmodNorm(opts, e)] = true
	}
	for mode := range seen {
		if mode != 0o444 && mode != 0o555 {
			t.Fatalf("unexpected normalized mode %o", mode)
		}
	}
}
