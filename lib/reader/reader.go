// Package reader implements the FilesystemReader façade from spec.md
// Section 4.4: find/getattr/readv/readlink/walk/walk_data_order/
// info_as_dynamic/dump/check over an already-loaded image, built atop
// lib/blockcache for block decoding and lib/dwarfsmeta for the
// unpacked inode/directory model. The multi-chunk read loop in
// readv.go (a linear scan over the file's chunk list) is grounded on the teacher's
// lib/artifactstore/fuse/reader.go findChunk/readAt pair; the
// secondary-index pattern backing walk/info_as_dynamic follows
// lib/artifact/index.go.
package reader

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/CrazyForks/dwarfs/lib/blockcache"
	"github.com/CrazyForks/dwarfs/lib/dwarfscodec"
	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
	"github.com/CrazyForks/dwarfs/lib/dwarfsmeta"
)

// defaultCacheBytes bounds the block cache's resident decompressed
// bytes when OpenOptions.CacheBytes is left at zero. Generous enough
// for interactive use over modest images without the caller having to
// think about it up front.
const defaultCacheBytes = 256 << 20

// OpenOptions configures Open. Zero-value fields take the defaults
// named on each field.
type OpenOptions struct {
	// ImageOffset selects where section 0 begins within the raw bytes
	// passed to Open. The zero value means "start at byte 0", the
	// common case for an image with no prepended header; pass
	// dwarfsfmt.ImageOffsetAuto to scan for the magic instead, per
	// spec.md Section 6's --image-offset={auto|<bytes>}.
	ImageOffset int

	// StrongChecksums selects the strong-checksum convention Open tries
	// first. The section envelope carries no self-describing flag for
	// it (see dwarfsfmt.ReadHeader), so when splitting the image under
	// this convention fails, Open retries under the other one before
	// reporting the first error.
	StrongChecksums bool

	// CacheBytes bounds the block cache's resident decompressed bytes.
	// Zero means defaultCacheBytes.
	CacheBytes uint64
	// CacheWorkers bounds concurrent block decodes. Zero means 1.
	CacheWorkers int

	// Registry supplies the codec set. nil means dwarfscodec.NewRegistry().
	Registry *dwarfscodec.Registry
}

// blockRecord is one block section as parsed at Open, kept around so
// Check can re-verify its checksums and force decompression without
// re-splitting the image.
type blockRecord struct {
	header  dwarfsfmt.Header
	payload []byte
}

// FilesystemReader is a read-only view over one already-parsed DwarFS
// image, per spec.md Section 4.4.
type FilesystemReader struct {
	header   []byte
	schema   dwarfsmeta.Schema
	metadata dwarfsmeta.Metadata
	history  dwarfsmeta.History

	cache  *blockcache.Cache
	blocks []blockRecord

	// pendingBlocks holds block sections during Open, between the
	// section-split pass (which discovers them before BlockSizes is
	// known) and the metadata-decode pass that supplies each one's
	// UncompressedSize before insertion into cache.
	pendingBlocks []blockcache.Section

	rootInode        uint32
	infoByInode      map[uint32]dwarfsmeta.InodeInfo
	childrenByParent map[uint32][]dwarfsmeta.DirEntry
}

// Open locates section 0 within image, splits it into sections,
// decodes the schema/metadata/history sections, and registers every
// block section with a fresh block cache. The returned
// FilesystemReader holds no reference to image's block payloads beyond
// what the cache itself retains.
func Open(image []byte, opts OpenOptions) (*FilesystemReader, error) {
	start, err := dwarfsfmt.LocateImageStart(image, opts.ImageOffset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dwarfserr.ErrCorrupt, err)
	}
	header := image[:start]
	body := image[start:]

	sections, err := dwarfsfmt.SplitSections(body, opts.StrongChecksums)
	if err != nil {
		alt, altErr := dwarfsfmt.SplitSections(body, !opts.StrongChecksums)
		if altErr != nil {
			return nil, fmt.Errorf("%w: %v", dwarfserr.ErrCorrupt, err)
		}
		sections = alt
	}

	registry := opts.Registry
	if registry == nil {
		registry = dwarfscodec.NewRegistry()
	}

	r := &FilesystemReader{
		header: header,
		cache:  blockcache.New(cacheBytesOrDefault(opts.CacheBytes)),
	}
	r.cache.SetNumWorkers(cacheWorkersOrDefault(opts.CacheWorkers))

	var metaPayload, schemaPayload, historyPayload []byte
	blockNo := uint32(0)
	for _, s := range sections {
		switch s.Header.Type {
		case dwarfsfmt.SectionBlock:
			r.blocks = append(r.blocks, blockRecord{header: s.Header, payload: s.Payload})
			codec, err := registry.ByType(s.Header.Compression)
			if err != nil {
				return nil, fmt.Errorf("%w: block %d: %v", dwarfserr.ErrCorrupt, blockNo, err)
			}
			section := blockcache.Section{
				BlockNo:    blockNo,
				Compressed: s.Payload,
				Codec:      codec,
			}
			blockNo++
			r.pendingBlocks = append(r.pendingBlocks, section)
		case dwarfsfmt.SectionMetadataSchema:
			schemaPayload = s.Payload
		case dwarfsfmt.SectionMetadata:
			metaPayload = s.Payload
		case dwarfsfmt.SectionHistory:
			historyPayload = s.Payload
		case dwarfsfmt.SectionIndex:
			// The trailing index is authoritative for CLI tiling checks
			// (dwarfsfmt.VerifyTiling) but this façade rebuilds its own
			// view of the image directly from the sections it parsed.
		default:
			return nil, fmt.Errorf("%w: unknown section type %s", dwarfserr.ErrCorrupt, s.Header.Type)
		}
	}

	if metaPayload == nil {
		return nil, fmt.Errorf("%w: image has no metadata section", dwarfserr.ErrCorrupt)
	}
	r.metadata, err = dwarfsmeta.DecodeMetadata(metaPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dwarfserr.ErrCorrupt, err)
	}
	if schemaPayload != nil {
		r.schema, err = dwarfsmeta.DecodeSchema(schemaPayload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", dwarfserr.ErrCorrupt, err)
		}
	}
	if historyPayload != nil {
		r.history, err = dwarfsmeta.DecodeHistory(historyPayload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", dwarfserr.ErrCorrupt, err)
		}
	}

	for i, sec := range r.pendingBlocks {
		if i >= len(r.metadata.BlockSizes) {
			return nil, fmt.Errorf("%w: block %d has no declared size in metadata", dwarfserr.ErrCorrupt, i)
		}
		sec.UncompressedSize = int(r.metadata.BlockSizes[i])
		if err := r.cache.Insert(sec); err != nil {
			return nil, fmt.Errorf("registering block %d: %w", i, err)
		}
	}
	r.pendingBlocks = nil

	if err := r.metadata.Validate(r.metadata.BlockSizeFunc()); err != nil {
		return nil, fmt.Errorf("%w: %v", dwarfserr.ErrCorrupt, err)
	}

	r.buildIndexes()
	return r, nil
}

func cacheBytesOrDefault(n uint64) uint64 {
	if n == 0 {
		return defaultCacheBytes
	}
	return n
}

func cacheWorkersOrDefault(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// buildIndexes derives the root inode and the parent->children lookup
// from the flat Directories table, translating DirEntry.ParentInode's
// 0 sentinel (spec.md Section 3's "no parent" convention, realized in
// lib/writer/metadata.go's BuildMetadata) to the real root inode
// number: the lowest inode in the directory range, since Scan always
// visits the scan root first.
func (r *FilesystemReader) buildIndexes() {
	r.infoByInode = make(map[uint32]dwarfsmeta.InodeInfo, len(r.metadata.Inodes))
	for _, info := range r.metadata.Inodes {
		r.infoByInode[info.Number] = info
	}

	for _, rng := range r.metadata.Ranges {
		if rng.Kind == dwarfsmeta.KindDirectory {
			r.rootInode = rng.First
			break
		}
	}

	r.childrenByParent = make(map[uint32][]dwarfsmeta.DirEntry)
	for _, d := range r.metadata.Directories {
		parent := d.ParentInode
		if parent == 0 {
			parent = r.rootInode
		}
		r.childrenByParent[parent] = append(r.childrenByParent[parent], d)
	}
	for parent, children := range r.childrenByParent {
		sort.Slice(children, func(a, b int) bool {
			return r.nameOf(children[a]) < r.nameOf(children[b])
		})
		r.childrenByParent[parent] = children
	}
}

func (r *FilesystemReader) nameOf(d dwarfsmeta.DirEntry) string {
	if int(d.NameIndex) >= len(r.metadata.Names) {
		return ""
	}
	return r.metadata.Names[d.NameIndex]
}

// Header returns the opaque byte prefix preceding section 0, as
// written via mkdwarfs --header, for dwarfsck --print-header.
func (r *FilesystemReader) Header() []byte { return r.header }

// Schema returns the decoded metadata schema section.
func (r *FilesystemReader) Schema() dwarfsmeta.Schema { return r.schema }

// History returns the decoded history section's entries, oldest first.
func (r *FilesystemReader) History() dwarfsmeta.History { return r.history }

// RootInode returns the inode number of the tree's root directory.
func (r *FilesystemReader) RootInode() uint32 { return r.rootInode }

// Close releases the block cache's background resources.
func (r *FilesystemReader) Close() { r.cache.Close() }

// Block requests blockNo's full decompressed bytes through the block
// cache, for tools (dwarfsck --checksum) that need a whole block
// rather than a chunk-bounded range.
func (r *FilesystemReader) Block(blockNo uint32) (*blockcache.Future, error) {
	size, ok := r.metadata.BlockSizeFunc()(blockNo)
	if !ok {
		return nil, dwarfserr.New(dwarfserr.KindBadArgs, fmt.Errorf("no such block %d", blockNo))
	}
	return r.cache.Get(blockNo, 0, int(size))
}

// Find resolves a "/"-separated path, relative to the tree root, to
// an inode number, per spec.md Section 4.4's find(path).
func (r *FilesystemReader) Find(p string) (uint32, error) {
	p = strings.Trim(path.Clean("/"+p), "/")
	ino := r.rootInode
	if p == "" || p == "." {
		return ino, nil
	}
	for _, component := range strings.Split(p, "/") {
		children := r.childrenByParent[ino]
		found := false
		for _, d := range children {
			if r.nameOf(d) == component {
				ino = d.Inode
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", dwarfserr.ErrNotFound, p)
		}
	}
	return ino, nil
}

// GetAttr returns an inode's POSIX-visible attributes, per spec.md
// Section 4.4's getattr(inode).
func (r *FilesystemReader) GetAttr(inode uint32) (dwarfsmeta.InodeInfo, error) {
	info, ok := r.infoByInode[inode]
	if !ok {
		return dwarfsmeta.InodeInfo{}, fmt.Errorf("%w: inode %d", dwarfserr.ErrNotFound, inode)
	}
	return info, nil
}

// ReadLink returns a symlink inode's target, per spec.md Section 4.4's
// readlink(inode).
func (r *FilesystemReader) ReadLink(inode uint32) (string, error) {
	info, err := r.GetAttr(inode)
	if err != nil {
		return "", err
	}
	if info.Kind != dwarfsmeta.KindSymlink {
		return "", dwarfserr.New(dwarfserr.KindBadArgs, fmt.Errorf("inode %d is not a symlink", inode))
	}
	if int(info.SymlinkTarget) >= len(r.metadata.Names) {
		return "", fmt.Errorf("%w: inode %d has out-of-range symlink target", dwarfserr.ErrCorrupt, inode)
	}
	return r.metadata.Names[info.SymlinkTarget], nil
}
