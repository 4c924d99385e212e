package fuse

import (
	"context"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/CrazyForks/dwarfs/lib/dwarfsmeta"
)

// inodeNode represents one dwarfs inode — directory, regular file,
// symlink, or device — as a single node type, switching behavior on
// Kind rather than the teacher's separate per-namespace node types
// (rootNode/tagRootNode/casNode/artifactFileNode): every dwarfs inode
// lives in one homogeneous tree, so there is only one namespace to
// model, not two.
type inodeNode struct {
	gofuse.Inode
	fs  *Options
	ino uint32
}

var (
	_ gofuse.InodeEmbedder  = (*inodeNode)(nil)
	_ gofuse.NodeLookuper   = (*inodeNode)(nil)
	_ gofuse.NodeReaddirer  = (*inodeNode)(nil)
	_ gofuse.NodeGetattrer  = (*inodeNode)(nil)
	_ gofuse.NodeOpener     = (*inodeNode)(nil)
	_ gofuse.NodeReader     = (*inodeNode)(nil)
	_ gofuse.NodeReadlinker = (*inodeNode)(nil)
)

func (n *inodeNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childIno, info, err := n.fs.Reader.ChildByName(n.ino, name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	n.fillAttr(&out.Attr, childIno, info)
	child := n.NewPersistentInode(ctx, &inodeNode{fs: n.fs, ino: childIno}, stableAttr(childIno, info))
	return child, 0
}

func (n *inodeNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	children, err := n.fs.Reader.Children(n.ino)
	if err != nil {
		return nil, syscall.ENOTDIR
	}
	entries := make([]fuse.DirEntry, len(children))
	for i, c := range children {
		info, err := n.fs.Reader.GetAttr(c.Inode)
		if err != nil {
			return nil, syscall.EIO
		}
		entries[i] = fuse.DirEntry{Name: c.Name, Ino: uint64(c.Inode), Mode: typeMode(info.Kind)}
	}
	return &sliceDirStream{entries: entries}, 0
}

func (n *inodeNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := n.fs.Reader.GetAttr(n.ino)
	if err != nil {
		return syscall.ENOENT
	}
	n.fillAttr(&out.Attr, n.ino, info)
	return 0
}

func (n *inodeNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	// Content is immutable once an image is built; the kernel page
	// cache never needs invalidating for the lifetime of the mount.
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *inodeNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	futures, err := n.fs.Reader.ReadV(n.ino, int64(len(dest)), off)
	if err != nil {
		return nil, syscall.EIO
	}

	pos := 0
	for _, future := range futures {
		rng, err := future.Wait(ctx)
		if err != nil {
			return nil, syscall.EIO
		}
		pos += copy(dest[pos:], rng.Bytes())
		rng.Release()
	}
	return fuse.ReadResultData(dest[:pos]), 0
}

func (n *inodeNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.fs.Reader.ReadLink(n.ino)
	if err != nil {
		return nil, syscall.EINVAL
	}
	return []byte(target), 0
}

// typeMode returns the syscall.S_IFxxx bits for kind, with no
// permission bits — used for DirEntry.Mode, which the kernel only
// inspects for its file-type bits.
func typeMode(kind dwarfsmeta.EntryKind) uint32 {
	switch kind {
	case dwarfsmeta.KindDirectory:
		return syscall.S_IFDIR
	case dwarfsmeta.KindSymlink:
		return syscall.S_IFLNK
	case dwarfsmeta.KindDevice:
		return syscall.S_IFBLK
	default:
		return syscall.S_IFREG
	}
}

func stableAttr(ino uint32, info dwarfsmeta.InodeInfo) gofuse.StableAttr {
	return gofuse.StableAttr{Mode: typeMode(info.Kind), Ino: uint64(ino)}
}

// fillAttr populates out from a dwarfs InodeInfo, combining the
// permission bits stored in Mode (lib/writer/scan.go strips the type
// bits at scan time) with the S_IFxxx bits derived from Kind. A
// symlink's reported size is its target string's length, which
// requires resolving the target through n's reader since InodeInfo
// only carries the target's name-table index.
func (n *inodeNode) fillAttr(out *fuse.Attr, ino uint32, info dwarfsmeta.InodeInfo) {
	out.Mode = typeMode(info.Kind) | info.Mode
	out.Uid = info.UID
	out.Gid = info.GID
	out.Mtime = info.MTime
	out.Atime = info.ATime
	out.Ctime = info.CTime
	switch info.Kind {
	case dwarfsmeta.KindRegular:
		out.Size = info.Size
		out.Blocks = (out.Size + 511) / 512
	case dwarfsmeta.KindSymlink:
		if target, err := n.fs.Reader.ReadLink(ino); err == nil {
			out.Size = uint64(len(target))
		}
	case dwarfsmeta.KindDevice:
		out.Rdev = uint32(unix.Mkdev(info.DeviceMajor, info.DeviceMinor))
	}
}

// sliceDirStream implements gofuse.DirStream from a precomputed slice
// of entries, following the same shape as the teacher's
// lib/artifactstore/fuse/mount.go sliceDirStream.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool { return s.index < len(s.entries) }

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
