package writer

import "github.com/CrazyForks/dwarfs/lib/dwarfsmeta"

// Block is one finalized, still-uncompressed block: a run of packed
// chunk bytes all routed to the same category's codec, per spec.md
// Section 4.2 stage 5.
type Block struct {
	Category string
	Data     []byte
}

// Pack assembles ordered unique chunks into fixed-size blocks, per
// spec.md Section 4.2 stage 5. A block switches category (and is
// finalized early, even if not full) whenever the next chunk's
// category differs from the block currently being filled — "each
// block is routed to the compressor bound to its category" only works
// if a block carries exactly one category. A unique chunk larger than
// the remaining room in the current block is split across blocks; the
// returned pieces map records every (unique chunk -> its ordered
// (block, offset, length) pieces), preserving "chunk offsets are
// strictly monotonically increasing" within each block (spec.md
// Section 5) since pieces are always appended, never reordered.
func Pack(opts *Options, unique []UniqueChunk, order []int) ([]Block, map[int][]dwarfsmeta.Chunk) {
	blockSize := opts.BlockSize()
	var blocks []Block
	pieces := make(map[int][]dwarfsmeta.Chunk)

	var curData []byte
	curCategory := ""
	curBlock := -1

	finalize := func() {
		if curBlock == -1 {
			return
		}
		blocks = append(blocks, Block{Category: curCategory, Data: curData})
	}

	startBlock := func(category string) {
		finalize()
		curBlock++
		curCategory = category
		curData = nil
	}

	for _, ui := range order {
		chunk := unique[ui]
		if curBlock == -1 || chunk.Category != curCategory {
			startBlock(chunk.Category)
		}

		data := chunk.Data
		if len(data) == 0 {
			// A zero-length unique chunk (possible only via a
			// zero-length fragment from a non-default categorizer)
			// contributes no piece; nothing to place.
			continue
		}
		for len(data) > 0 {
			room := blockSize - len(curData)
			if room <= 0 {
				startBlock(curCategory)
				room = blockSize
			}
			n := len(data)
			if n > room {
				n = room
			}
			offset := len(curData)
			curData = append(curData, data[:n]...)
			pieces[ui] = append(pieces[ui], dwarfsmeta.Chunk{
				Block:  uint32(curBlock),
				Offset: uint32(offset),
				Length: uint32(n),
			})
			data = data[n:]
		}
	}
	finalize()

	return blocks, pieces
}
