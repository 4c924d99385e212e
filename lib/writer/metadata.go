package writer

import (
	"path"
	"sort"

	"github.com/CrazyForks/dwarfs/lib/dwarfsmeta"
)

// nameTable is the shared string table backing both DirEntry.NameIndex
// and InodeInfo.SymlinkTarget, deduplicated so that repeated basenames
// and repeated symlink targets cost one entry each.
type nameTable struct {
	list  []string
	index map[string]uint32
}

func newNameTable() *nameTable {
	return &nameTable{index: make(map[string]uint32)}
}

func (t *nameTable) intern(s string) uint32 {
	if i, ok := t.index[s]; ok {
		return i
	}
	i := uint32(len(t.list))
	t.list = append(t.list, s)
	t.index[s] = i
	return i
}

// kindOrder fixes the inode-range assignment order. Any consistent
// order satisfies the disjoint-contiguous-ranges invariant; regular
// files first keeps the common case (a tree dominated by files) in the
// lowest inode numbers.
var kindOrder = []dwarfsmeta.EntryKind{
	dwarfsmeta.KindRegular,
	dwarfsmeta.KindDirectory,
	dwarfsmeta.KindSymlink,
	dwarfsmeta.KindDevice,
}

// BuildMetadata assembles the packed-metadata model from the scanned
// entries, the chunk references Dedup recorded for each entry, and the
// chunk pieces Pack recorded for each unique chunk, per spec.md Section
// 4.2 stage 6: "metadata is built last, once every block's final layout
// is known". Inode 0 is reserved as the root directory's "no parent"
// sentinel (spec.md Section 3's directory-entry parent invariant); real
// inode numbers start at 1.
func BuildMetadata(opts *Options, entries []Entry, refs map[int][]ChunkRef, pieces map[int][]dwarfsmeta.Chunk, blockSizes []uint64, blockCategories []string) dwarfsmeta.Metadata {
	names := newNameTable()

	byKind := make(map[dwarfsmeta.EntryKind][]int)
	for i, e := range entries {
		byKind[e.Kind] = append(byKind[e.Kind], i)
	}

	inodeOf := make([]uint32, len(entries))
	var ranges []dwarfsmeta.InodeRange
	next := uint32(1)
	for _, k := range kindOrder {
		idxs := byKind[k]
		if len(idxs) == 0 {
			continue
		}
		first := next
		for _, i := range idxs {
			inodeOf[i] = next
			next++
		}
		ranges = append(ranges, dwarfsmeta.InodeRange{Kind: k, First: first, Count: uint32(len(idxs))})
	}

	pathToEntry := make(map[string]int, len(entries))
	for i, e := range entries {
		pathToEntry[e.Path] = i
	}
	parentInode := func(entryPath string) uint32 {
		dir := path.Dir(entryPath)
		if dir == "." || dir == "/" {
			return 0
		}
		if pi, ok := pathToEntry[dir]; ok {
			return inodeOf[pi]
		}
		return 0
	}

	timeBase := dwarfsmeta.Metadata{TimeResolution: opts.TimeResolution}

	var directories []dwarfsmeta.DirEntry
	inodes := make([]dwarfsmeta.InodeInfo, len(entries))

	for i, e := range entries {
		info := dwarfsmeta.InodeInfo{
			Number: inodeOf[i],
			Mode:   applyChmodNorm(opts, e),
			UID:    resolveUID(opts, e.UID),
			GID:    resolveGID(opts, e.GID),
			Size:   uint64(e.Size),
			Kind:   e.Kind,
		}

		if opts.SetTime.Set {
			t := timeBase.Quantize(opts.SetTime.Epoch)
			info.MTime, info.ATime, info.CTime = t, t, t
		} else {
			info.MTime = timeBase.Quantize(e.MTime)
			info.ATime = timeBase.Quantize(e.ATime)
			info.CTime = timeBase.Quantize(e.CTime)
		}

		switch e.Kind {
		case dwarfsmeta.KindRegular:
			for _, ref := range refs[i] {
				info.Chunks = append(info.Chunks, pieces[ref.UniqueIndex]...)
			}
		case dwarfsmeta.KindSymlink:
			info.SymlinkTarget = names.intern(e.LinkTarget)
		case dwarfsmeta.KindDevice:
			info.DeviceMajor = e.DeviceMajor
			info.DeviceMinor = e.DeviceMinor
		}

		inodes[i] = info

		if e.Path != "" {
			directories = append(directories, dwarfsmeta.DirEntry{
				NameIndex:   names.intern(path.Base(e.Path)),
				Inode:       inodeOf[i],
				ParentInode: parentInode(e.Path),
			})
		}
	}

	sort.Slice(directories, func(a, b int) bool { return directories[a].Inode < directories[b].Inode })

	return dwarfsmeta.Metadata{
		Ranges:         ranges,
		Inodes:         inodes,
		Directories:    directories,
		Names:          names.list,
		BaseEpoch:       0,
		TimeResolution:  opts.TimeResolution,
		BlockSizes:      blockSizes,
		BlockCategories: blockCategories,
	}
}

// applyChmodNorm implements "--chmod=norm collapses permission strings
// to exactly {r--r--r--, r-xr-xr-x}" (spec.md Section 8 scenario 3):
// every regular file becomes mode 0444, or 0555 if any execute bit was
// set in the original mode. Directories, symlinks, and device nodes
// are left untouched — norm only ever reshapes regular-file
// permissions.
func applyChmodNorm(opts *Options, e Entry) uint32 {
	if !opts.ChmodNorm || e.Kind != dwarfsmeta.KindRegular {
		return e.Mode
	}
	if e.Mode&0111 != 0 {
		return 0555
	}
	return 0444
}

func resolveUID(opts *Options, uid uint32) uint32 {
	if opts.Owner.SetUID {
		return opts.Owner.UID
	}
	return uid
}

func resolveGID(opts *Options, gid uint32) uint32 {
	if opts.Owner.SetGID {
		return opts.Owner.GID
	}
	return gid
}
