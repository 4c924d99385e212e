package fuse

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/CrazyForks/dwarfs/lib/dwarfscodec"
	"github.com/CrazyForks/dwarfs/lib/dwarfshash"
	"github.com/CrazyForks/dwarfs/lib/reader"
	"github.com/CrazyForks/dwarfs/lib/writer"
)

// fuseAvailable skips the calling test if /dev/fuse is not accessible,
// following the teacher's lib/artifactstore/fuse/mount_test.go pattern.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
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

// testMount builds a small image from srcRoot, opens it, and mounts it
// read-only at a fresh temp directory. The mount is unmounted and the
// reader closed when the test ends.
func testMount(t *testing.T, srcRoot string) (mountpoint string) {
	t.Helper()
	fuseAvailable(t)

	image := buildImage(t, srcRoot)
	r, err := reader.Open(image, reader.OpenOptions{})
	if err != nil {
		t.Fatalf("reader.Open: %v", err)
	}
	t.Cleanup(r.Close)

	mountpoint = filepath.Join(t.TempDir(), "mnt")
	server, err := Mount(Options{Mountpoint: mountpoint, Reader: r})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})
	return mountpoint
}

func TestMountListsRootEntries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/one.txt", []byte("hello from one"))
	writeFile(t, root, "b.txt", []byte("top level file"))

	mountpoint := testMount(t, root)

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
	}
	if !names["a"] {
		t.Error("missing directory 'a'")
	}
	if !names["b.txt"] {
		t.Error("missing file 'b.txt'")
	}
}

func TestMountReadSmallFile(t *testing.T) {
	root := t.TempDir()
	content := []byte("hello from the FUSE mount")
	writeFile(t, root, "greeting.txt", content)

	mountpoint := testMount(t, root)

	got, err := os.ReadFile(filepath.Join(mountpoint, "greeting.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("got %q, want %q", got, content)
	}
}

func TestMountReadLargeFileCrossesChunks(t *testing.T) {
	root := t.TempDir()
	content := bytes.Repeat([]byte("0123456789abcdef"), 64*1024) // 1 MiB
	writeFile(t, root, "big.bin", content)

	mountpoint := testMount(t, root)

	got, err := os.ReadFile(filepath.Join(mountpoint, "big.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("large file content mismatch through FUSE")
	}
}

func TestMountReadlink(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/target.txt", []byte("target"))
	if err := os.Symlink("target.txt", filepath.Join(root, "a", "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	mountpoint := testMount(t, root)

	got, err := os.Readlink(filepath.Join(mountpoint, "a", "link"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if got != "target.txt" {
		t.Errorf("got link target %q, want %q", got, "target.txt")
	}
}

func TestMountStatReportsSizeAndMode(t *testing.T) {
	root := t.TempDir()
	content := []byte("twelve bytes")
	writeFile(t, root, "sized.txt", content)
	if err := os.Chmod(filepath.Join(root, "sized.txt"), 0o640); err != nil {
		t.Fatalf("Chmod: %v", err)
	}

	mountpoint := testMount(t, root)

	info, err := os.Stat(filepath.Join(mountpoint, "sized.txt"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(len(content)) {
		t.Errorf("got size %d, want %d", info.Size(), len(content))
	}
	if info.Mode().Perm() != 0o640 {
		t.Errorf("got perm %o, want %o", info.Mode().Perm(), 0o640)
	}
}

func TestMountLookupNonexistentFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "only.txt", []byte("x"))

	mountpoint := testMount(t, root)

	if _, err := os.Stat(filepath.Join(mountpoint, "missing.txt")); !os.IsNotExist(err) {
		t.Errorf("expected IsNotExist, got %v", err)
	}
}
