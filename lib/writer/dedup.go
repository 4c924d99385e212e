package writer

import (
	"sort"

	"github.com/CrazyForks/dwarfs/lib/chunking"
	"github.com/CrazyForks/dwarfs/lib/dwarfshash"
)

// UniqueChunk is one deduplicated content-defined chunk surviving
// stage 3, still unordered and unpacked.
type UniqueChunk struct {
	Hash     dwarfshash.Hash
	Category string
	Data     []byte
	// OriginEntry is the entry whose content first produced this
	// chunk; Order groups chunks by their owning entry so permutation
	// operates at file granularity rather than splitting one file's
	// chunks across the packed block order.
	OriginEntry int
}

// ChunkRef names one unique chunk's position within an entry's content
// stream, in file order.
type ChunkRef struct {
	EntryIndex  int
	UniqueIndex int
}

// Dedup chunks every fragment with lib/chunking and collapses
// equal-hash chunks to a single entry in the returned unique-chunk
// list, per spec.md Section 4.2 stage 3 (chunked at the sub-fragment
// granularity recorded as an Open Question decision in DESIGN.md).
// FileHashNone disables collapsing entirely: every chunk is kept
// unique regardless of hash collisions, matching "none disables dedup
// (every file treated unique)".
//
// The returned refs map lists each entry's chunks in file order,
// keyed by entry index; entries with no regular-file fragments (empty
// files, directories, symlinks) have no key, realizing the "a single
// empty chunk is canonical" decision as zero chunk-table entries.
func Dedup(opts *Options, contents [][]byte, fragments []Fragment) ([]UniqueChunk, map[int][]ChunkRef) {
	byEntry := make(map[int][]Fragment)
	for _, f := range fragments {
		byEntry[f.EntryIndex] = append(byEntry[f.EntryIndex], f)
	}

	var unique []UniqueChunk
	seen := make(map[dwarfshash.Hash]int)
	refs := make(map[int][]ChunkRef)

	entryIndices := make([]int, 0, len(byEntry))
	for idx := range byEntry {
		entryIndices = append(entryIndices, idx)
	}
	sort.Ints(entryIndices)

	for _, entryIdx := range entryIndices {
		frags := byEntry[entryIdx]
		sort.Slice(frags, func(i, j int) bool { return frags[i].Start < frags[j].Start })

		data := contents[entryIdx]
		for _, frag := range frags {
			fragData := data[frag.Start:frag.End]
			for _, r := range chunking.ChunkAll(fragData) {
				chunkData := fragData[r.Start:r.End]
				hash := dwarfshash.HashChunkWith(opts.FileHash, chunkData)

				idx, ok := -1, false
				if opts.FileHash != dwarfshash.FileHashNone {
					idx, ok = seen[hash]
				}
				if !ok {
					idx = len(unique)
					unique = append(unique, UniqueChunk{Hash: hash, Category: frag.Category, Data: chunkData, OriginEntry: entryIdx})
					if opts.FileHash != dwarfshash.FileHashNone {
						seen[hash] = idx
					}
				}
				refs[entryIdx] = append(refs[entryIdx], ChunkRef{EntryIndex: entryIdx, UniqueIndex: idx})
			}
		}
	}
	return unique, refs
}
