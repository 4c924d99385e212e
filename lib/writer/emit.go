package writer

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
)

// compressedBlock is one block's compression result, tagged with its
// position so the ordered emitter can write sections back out in
// finalization order even though compression itself runs concurrently
// across a worker pool (spec.md Section 5: "a fixed-size worker pool
// for codec calls and a separate ordered emitter task that serializes
// section writes in block-finalization order").
type compressedBlock struct {
	index       int
	compression dwarfsfmt.CompressionType
	data        []byte
	rawSize     int
}

// compressBlocks runs opts's bound codec over every block concurrently,
// bounded by opts.NumWorkers (0 or negative means runtime.NumCPU), and
// returns results indexed exactly like blocks. A codec reporting
// ErrIncompressible or any other failure aborts the whole build per
// spec.md Section 4.2's "Failure semantics": "bad_compression_ratio"
// is itself a codec error category, not a policy knob this package
// interprets — see DESIGN.md's Open Question decision.
func compressBlocks(ctx context.Context, opts *Options, blocks []Block) ([]compressedBlock, error) {
	workers := opts.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]compressedBlock, len(blocks))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for i, b := range blocks {
		i, b := i, b
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			codec, metadata, err := opts.codecFor(b.Category)
			if err != nil {
				return err
			}
			compressed, err := codec.Compress(b.Data, metadata)
			if err != nil {
				return fmt.Errorf("compressing block %d (category %q): %w", i, b.Category, err)
			}
			results[i] = compressedBlock{
				index:       i,
				compression: codec.Type(),
				data:        compressed,
				rawSize:     len(b.Data),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// emitSections writes each payload to w as a section, in slice order
// (for Build: the compressed blocks in block-finalization order, then
// the metadata schema, packed metadata, and history sections). It
// returns one index entry per section written, with offsets counted
// from startOffset. The section index itself is written by the caller.
func emitSections(w io.Writer, startOffset uint64, includeStrong bool, payloads []sectionPayload) ([]dwarfsfmt.IndexEntry, error) {
	var entries []dwarfsfmt.IndexEntry
	offset := startOffset
	for _, p := range payloads {
		header, err := dwarfsfmt.Write(w, p.sectionType, p.compression, p.payload, includeStrong)
		if err != nil {
			return nil, fmt.Errorf("writing %s section: %w", p.sectionType, err)
		}
		length := uint64(dwarfsfmt.HeaderSize(header.HasStrongChecksum)) + header.Length
		entries = append(entries, dwarfsfmt.IndexEntry{Type: p.sectionType, Offset: offset, Length: length})
		offset += length
	}
	return entries, nil
}

// sectionPayload is one section awaiting emission: its type, the
// compression tag already applied to payload, and the payload bytes
// themselves.
type sectionPayload struct {
	sectionType dwarfsfmt.SectionType
	compression dwarfsfmt.CompressionType
	payload     []byte
}
