package reader

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/CrazyForks/dwarfs/lib/dwarfscodec"
	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
	"github.com/CrazyForks/dwarfs/lib/dwarfsmeta"
	"github.com/CrazyForks/dwarfs/lib/dwarfshash"
	"github.com/CrazyForks/dwarfs/lib/writer"
)

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

func buildImage(t *testing.T, root string) []byte {
	t.Helper()
	opts := &writer.Options{
		Root:         root,
		BlockSizeExp: 16,
		FileHash:     dwarfshash.FileHashBlake3,
		Registry:     dwarfscodec.NewRegistry(),
		NumWorkers:   2,
	}
	var buf bytes.Buffer
	if _, err := writer.Build(context.Background(), opts, &buf); err != nil {
		t.Fatalf("writer.Build: %v", err)
	}
	return buf.Bytes()
}

// TestFindGetAttrReadLink round-trips a small tree through Open, per
// spec.md Section 4.4's find/getattr/readlink.
func TestFindGetAttrReadLink(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/one.txt", []byte("hello from one"))
	writeFile(t, root, "a/two.txt", []byte("hello from two"))
	if err := os.Symlink("one.txt", filepath.Join(root, "a", "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	image := buildImage(t, root)
	r, err := Open(image, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	ino, err := r.Find("a/one.txt")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	info, err := r.GetAttr(ino)
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}
	if info.Kind != dwarfsmeta.KindRegular {
		t.Fatalf("expected a/one.txt to be a regular file, got kind %v", info.Kind)
	}
	if info.Size != uint64(len("hello from one")) {
		t.Fatalf("expected size %d, got %d", len("hello from one"), info.Size)
	}

	linkIno, err := r.Find("a/link")
	if err != nil {
		t.Fatalf("Find link: %v", err)
	}
	target, err := r.ReadLink(linkIno)
	if err != nil {
		t.Fatalf("ReadLink: %v", err)
	}
	if target != "one.txt" {
		t.Fatalf("expected symlink target %q, got %q", "one.txt", target)
	}

	if _, err := r.Find("a/missing.txt"); err == nil {
		t.Fatalf("expected Find to fail for a nonexistent path")
	}
}

// TestReadVRoundTrip checks that ReadV's futures, once awaited and
// concatenated, reproduce the original file content exactly, covering
// both a whole-file read and a read split mid-chunk.
func TestReadVRoundTrip(t *testing.T) {
	root := t.TempDir()
	content := bytes.Repeat([]byte("0123456789"), 10000) // spans multiple chunks
	writeFile(t, root, "big.bin", content)

	image := buildImage(t, root)
	r, err := Open(image, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	ino, err := r.Find("big.bin")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	for _, tc := range []struct {
		offset, size int64
	}{
		{0, int64(len(content))},
		{5, 37},
		{int64(len(content)) - 3, 100},
	} {
		futures, err := r.ReadV(ino, tc.size, tc.offset)
		if err != nil {
			t.Fatalf("ReadV(offset=%d, size=%d): %v", tc.offset, tc.size, err)
		}
		var got []byte
		for _, f := range futures {
			rng, err := f.Wait(context.Background())
			if err != nil {
				t.Fatalf("Future.Wait: %v", err)
			}
			got = append(got, rng.Bytes()...)
			rng.Release()
		}

		start := tc.offset
		end := start + tc.size
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		want := content[start:end]
		if !bytes.Equal(got, want) {
			t.Fatalf("offset=%d size=%d: got %d bytes, want %d bytes", tc.offset, tc.size, len(got), len(want))
		}
	}
}

// TestWalkVisitsEveryInodeOnce checks that Walk visits the root plus
// every scanned entry exactly once, depth-first.
func TestWalkVisitsEveryInodeOnce(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/one.txt", []byte("1"))
	writeFile(t, root, "a/b/two.txt", []byte("2"))
	writeFile(t, root, "three.txt", []byte("3"))

	image := buildImage(t, root)
	r, err := Open(image, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	seen := make(map[uint32]int)
	var paths []string
	if err := r.Walk(func(p string, inode uint32, _ dwarfsmeta.InodeInfo) error {
		seen[inode]++
		paths = append(paths, p)
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	for inode, count := range seen {
		if count != 1 {
			t.Fatalf("inode %d visited %d times, want 1", inode, count)
		}
	}
	want := []string{"", "a", "a/b", "a/b/two.txt", "a/one.txt", "three.txt"}
	if len(paths) != len(want) {
		t.Fatalf("got %d visited paths %v, want %d: %v", len(paths), paths, len(want), want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("path %d: got %q, want %q (full: %v)", i, paths[i], want[i], paths)
		}
	}
}

// TestWalkDataOrderSortsByFirstChunk checks that regular files are
// visited in ascending (block, offset) order of their first chunk, per
// spec.md Section 4.4's walk_data_order.
func TestWalkDataOrderSortsByFirstChunk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "z.bin", bytes.Repeat([]byte("z"), 5000))
	writeFile(t, root, "a.bin", bytes.Repeat([]byte("a"), 5000))
	writeFile(t, root, "empty.bin", nil)

	image := buildImage(t, root)
	r, err := Open(image, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var lastBlock, lastOffset uint32
	first := true
	sawEmpty := false
	if err := r.WalkDataOrder(func(inode uint32, info dwarfsmeta.InodeInfo) error {
		if len(info.Chunks) == 0 {
			sawEmpty = true
			return nil
		}
		if sawEmpty {
			t.Fatalf("inode %d with chunks visited after an empty file", inode)
		}
		c := info.Chunks[0]
		if !first {
			if c.Block < lastBlock || (c.Block == lastBlock && c.Offset < lastOffset) {
				t.Fatalf("inode %d out of data order: (%d,%d) precedes (%d,%d)", inode, c.Block, c.Offset, lastBlock, lastOffset)
			}
		}
		lastBlock, lastOffset = c.Block, c.Offset
		first = false
		return nil
	}); err != nil {
		t.Fatalf("WalkDataOrder: %v", err)
	}
}

// TestInfoAsDynamicDetailLevels checks that detail 2 reports a
// per-block breakdown and the packing-flag name list, per spec.md
// Section 8 scenario 6.
func TestInfoAsDynamicDetailLevels(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file.txt", []byte("some content"))

	image := buildImage(t, root)
	r, err := Open(image, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	shallow := r.InfoAsDynamic(0)
	if shallow.Blocks != nil {
		t.Fatalf("expected detail 0 to omit the block breakdown")
	}
	if shallow.InodeCount == 0 {
		t.Fatalf("expected a nonzero inode count")
	}

	deep := r.InfoAsDynamic(2)
	if len(deep.Blocks) != deep.BlockCount {
		t.Fatalf("expected %d block entries at detail 2, got %d", deep.BlockCount, len(deep.Blocks))
	}
}

// TestDumpWritesEveryPath checks that Dump emits one line per visited
// inode and includes each regular file's name.
func TestDumpWritesEveryPath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "note.txt", []byte("hi"))

	image := buildImage(t, root)
	r, err := Open(image, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if err := r.Dump(&buf, 2); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("note.txt")) {
		t.Fatalf("expected dump output to mention note.txt, got:\n%s", buf.String())
	}
}

// TestCheckFullFindsNoErrorsOnAFreshImage checks that a freshly built,
// uncorrupted image passes CheckFull with a zero error count.
func TestCheckFullFindsNoErrorsOnAFreshImage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.bin", bytes.Repeat([]byte("a"), 20000))
	writeFile(t, root, "b.bin", bytes.Repeat([]byte("b"), 20000))

	image := buildImage(t, root)
	r, err := Open(image, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	n, err := r.Check(context.Background(), dwarfsfmt.CheckFull, 2)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 errors on a fresh image, got %d", n)
	}
}

// TestCheckFullDetectsCorruption flips a byte inside a block's payload
// and checks that CheckFull reports at least one error rather than
// silently succeeding.
func TestCheckFullDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.bin", bytes.Repeat([]byte("corrupt-me-"), 4096))

	image := buildImage(t, root)

	start, err := dwarfsfmt.LocateImageStart(image, dwarfsfmt.ImageOffsetAuto)
	if err != nil {
		t.Fatalf("LocateImageStart: %v", err)
	}
	sections, err := dwarfsfmt.SplitSections(image[start:], false)
	if err != nil {
		t.Fatalf("SplitSections: %v", err)
	}
	corrupted := append([]byte{}, image...)
	offset := start
	for _, s := range sections {
		hs := dwarfsfmt.HeaderSize(false)
		if s.Header.Type == dwarfsfmt.SectionBlock && len(s.Payload) > 0 {
			corrupted[offset+hs] ^= 0xff
			break
		}
		offset += hs + len(s.Payload)
	}

	r, err := Open(corrupted, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	n, err := r.Check(context.Background(), dwarfsfmt.CheckFull, 2)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected at least one error after corrupting a block's payload")
	}
}
