package writer

import (
	"context"
	"fmt"
	"io"

	"github.com/CrazyForks/dwarfs/lib/dwarfscodec"
	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
	"github.com/CrazyForks/dwarfs/lib/dwarfsmeta"
)

// RecompressCategories selects which block categories Recompress
// re-encodes, via an explicit allow-list or, with Invert set, a
// deny-list, per spec.md Section 6's --recompress-categories=[!]<list>.
type RecompressCategories struct {
	Categories []string
	Invert     bool
}

func (c RecompressCategories) includes(category string) bool {
	if len(c.Categories) == 0 {
		return true
	}
	found := false
	for _, cat := range c.Categories {
		if cat == category {
			found = true
			break
		}
	}
	if c.Invert {
		return !found
	}
	return found
}

// section aliases dwarfsfmt.Section for brevity; splitSections wraps
// dwarfsfmt.SplitSections to translate a corrupt-header parse failure
// into the ErrCorrupt sentinel spec.md Section 4.2 calls for ("bit-
// flipped headers must surface as input filesystem is corrupt").
type section = dwarfsfmt.Section

func splitSections(body []byte, strongChecksums bool) ([]section, error) {
	sections, err := dwarfsfmt.SplitSections(body, strongChecksums)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dwarfserr.ErrCorrupt, err)
	}
	return sections, nil
}

// Recompress reads an already-located image body (the caller has
// already stripped any opaque header prefix, e.g. via
// dwarfsfmt.ScanForMagic) and re-emits it to w per mode, per spec.md
// Section 4.2's "Recompress mode": none copies the image through
// unchanged; all and block re-encode the block sections whose category
// cats includes (the category comes from the metadata section's
// BlockCategories table, since the format carries no other record of
// it) and copy the other block payloads; metadata copies every block
// payload verbatim. In every mode but none, the schema, metadata and
// history payloads are copied unchanged; only the section envelopes
// and the trailing index are written anew.
func Recompress(ctx context.Context, opts *Options, mode RecompressMode, cats RecompressCategories, image []byte, strongChecksums bool, w io.Writer) (Stats, error) {
	if mode == RecompressNone {
		n, err := w.Write(image)
		return Stats{ImageBytes: int64(n)}, err
	}

	sections, err := splitSections(image, strongChecksums)
	if err != nil {
		return Stats{}, err
	}

	metadata, schemaIdx, metaIdx, historyIdx, err := extractMetadata(sections)
	if err != nil {
		return Stats{}, err
	}

	var payloads []sectionPayload
	blockIdx := 0
	for _, s := range sections {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		switch s.Header.Type {
		case dwarfsfmt.SectionBlock:
			category := ""
			if blockIdx < len(metadata.BlockCategories) {
				category = metadata.BlockCategories[blockIdx]
			}
			blockIdx++

			if mode == RecompressMetadata || !cats.includes(category) {
				payloads = append(payloads, sectionPayload{sectionType: s.Header.Type, compression: s.Header.Compression, payload: s.Payload})
				continue
			}
			if blockIdx-1 >= len(metadata.BlockSizes) {
				return Stats{}, fmt.Errorf("%w: block %d has no declared size in metadata", dwarfserr.ErrCorrupt, blockIdx-1)
			}
			decoded, err := decodeSection(opts.Registry, s, int(metadata.BlockSizes[blockIdx-1]))
			if err != nil {
				return Stats{}, fmt.Errorf("decoding block %d: %w", blockIdx-1, err)
			}
			codec, codecOpts, err := opts.codecFor(category)
			if err != nil {
				return Stats{}, err
			}
			compressed, err := codec.Compress(decoded, codecOpts)
			if err != nil {
				return Stats{}, fmt.Errorf("recompressing block %d: %w", blockIdx-1, err)
			}
			payloads = append(payloads, sectionPayload{sectionType: s.Header.Type, compression: codec.Type(), payload: compressed})

		case dwarfsfmt.SectionMetadataSchema, dwarfsfmt.SectionMetadata, dwarfsfmt.SectionHistory:
			if mode == RecompressBlock {
				payloads = append(payloads, sectionPayload{sectionType: s.Header.Type, compression: s.Header.Compression, payload: s.Payload})
				continue
			}
			// These three sections are always stored uncompressed
			// (CompressionNone) by Build, so re-emitting under
			// RecompressAll/RecompressMetadata is a verbatim passthrough
			// of the already-decoded bytes extracted by extractMetadata.
			switch s.Header.Type {
			case dwarfsfmt.SectionMetadataSchema:
				payloads = append(payloads, sectionPayload{sectionType: s.Header.Type, compression: dwarfsfmt.CompressionNone, payload: sections[schemaIdx].Payload})
			case dwarfsfmt.SectionMetadata:
				payloads = append(payloads, sectionPayload{sectionType: s.Header.Type, compression: dwarfsfmt.CompressionNone, payload: sections[metaIdx].Payload})
			case dwarfsfmt.SectionHistory:
				payloads = append(payloads, sectionPayload{sectionType: s.Header.Type, compression: dwarfsfmt.CompressionNone, payload: sections[historyIdx].Payload})
			}

		case dwarfsfmt.SectionIndex:
			// The trailing index is always rebuilt from scratch below;
			// the stored copy is never carried forward.
		default:
			return Stats{}, fmt.Errorf("%w: unknown section type %s", dwarfserr.ErrCorrupt, s.Header.Type)
		}
	}

	entriesOut, err := emitSections(w, 0, strongChecksums, payloads)
	if err != nil {
		return Stats{}, err
	}
	indexPayload := dwarfsfmt.EncodeIndex(entriesOut)
	if _, err := dwarfsfmt.Write(w, dwarfsfmt.SectionIndex, dwarfsfmt.CompressionNone, indexPayload, strongChecksums); err != nil {
		return Stats{}, fmt.Errorf("writing section index: %w", err)
	}

	var total int64
	for _, e := range entriesOut {
		total += int64(e.Length)
	}
	total += int64(dwarfsfmt.HeaderSize(strongChecksums)) + int64(len(indexPayload))

	return Stats{Blocks: blockIdx, ImageBytes: total}, nil
}

// decodeSection fully decompresses one stored section's payload via
// the codec its header names, driving the frame-incremental decoder to
// completion in one pass — recompress operates on whole blocks, unlike
// the block cache's on-demand partial reads.
func decodeSection(registry *dwarfscodec.Registry, s section, uncompressedSize int) ([]byte, error) {
	codec, err := registry.ByType(s.Header.Compression)
	if err != nil {
		return nil, err
	}
	decoder, err := codec.NewDecoder(s.Payload, uncompressedSize, "")
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, uncompressedSize)
	for {
		frame, done, err := decoder.DecompressFrame(uncompressedSize)
		if err != nil {
			return nil, err
		}
		out = append(out, frame...)
		if done {
			break
		}
	}
	return out, nil
}

// extractMetadata locates and decodes the schema and packed-metadata
// sections, needed up front so block recompression knows each block's
// category and declared size.
func extractMetadata(sections []section) (dwarfsmeta.Metadata, int, int, int, error) {
	schemaIdx, metaIdx, historyIdx := -1, -1, -1
	for i, s := range sections {
		switch s.Header.Type {
		case dwarfsfmt.SectionMetadataSchema:
			schemaIdx = i
		case dwarfsfmt.SectionMetadata:
			metaIdx = i
		case dwarfsfmt.SectionHistory:
			historyIdx = i
		}
	}
	if metaIdx == -1 {
		return dwarfsmeta.Metadata{}, 0, 0, 0, fmt.Errorf("%w: image has no metadata section", dwarfserr.ErrCorrupt)
	}
	metadata, err := dwarfsmeta.DecodeMetadata(sections[metaIdx].Payload)
	if err != nil {
		return dwarfsmeta.Metadata{}, 0, 0, 0, fmt.Errorf("%w: %v", dwarfserr.ErrCorrupt, err)
	}
	return metadata, schemaIdx, metaIdx, historyIdx, nil
}
