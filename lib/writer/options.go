// Package writer implements the scan -> categorize -> deduplicate ->
// order -> pack -> emit pipeline described in spec.md Section 4.2: it
// ingests a directory tree and produces a single DwarFS image.
package writer

import (
	"fmt"

	"github.com/CrazyForks/dwarfs/lib/dwarfscodec"
	"github.com/CrazyForks/dwarfs/lib/dwarfshash"
	"github.com/CrazyForks/dwarfs/lib/dwarfsmeta"
	"github.com/CrazyForks/dwarfs/lib/filterrules"
)

// Order selects the fragment/chunk permutation applied before packing,
// per spec.md Section 4.2 stage 4.
type Order int

const (
	OrderNone Order = iota
	OrderPath
	OrderRevPath
	OrderSimilarity
	OrderNilsimsa
)

// ParseOrder validates a --order option value. The nilsimsa-specific
// suboptions (max-children, max-cluster-size) are parsed separately by
// ParseNilsimsaOptions, since --order=nilsimsa:max-children=K... is a
// single flag value carrying both the mode and its knobs.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "none", "":
		return OrderNone, nil
	case "path":
		return OrderPath, nil
	case "revpath":
		return OrderRevPath, nil
	case "similarity":
		return OrderSimilarity, nil
	case "nilsimsa":
		return OrderNilsimsa, nil
	default:
		return 0, fmt.Errorf("unknown --order mode %q", s)
	}
}

// NilsimsaOptions carries the --order=nilsimsa knobs from spec.md
// Section 4.2 stage 4 and Section 9 ("Both knobs must be validated
// before use (positive; size suffixes accepted)").
type NilsimsaOptions struct {
	MaxChildren    int
	MaxClusterSize int
}

// Validate checks the positivity constraint spec.md Section 9 calls
// out explicitly for the ordering-tree knobs.
func (o NilsimsaOptions) Validate() error {
	if o.MaxChildren < 1 {
		return fmt.Errorf("--order=nilsimsa:max-children must be >= 1, got %d", o.MaxChildren)
	}
	if o.MaxClusterSize < 1 {
		return fmt.Errorf("--order=nilsimsa:max-cluster-size must be >= 1, got %d", o.MaxClusterSize)
	}
	return nil
}

// DefaultNilsimsaOptions matches the reference tool's defaults: a
// modest branching factor and a cluster cap generous enough to avoid
// pathological recursion on typical trees.
func DefaultNilsimsaOptions() NilsimsaOptions {
	return NilsimsaOptions{MaxChildren: 16, MaxClusterSize: 256}
}

// RecompressMode selects which sections Recompress re-emits, per
// spec.md Section 4.2's "Recompress mode".
type RecompressMode int

const (
	RecompressAll RecompressMode = iota
	RecompressNone
	RecompressMetadata // keep blocks, recompress metadata
	RecompressBlock    // keep metadata, recompress blocks
)

// ParseRecompressMode validates a --recompress option value. An empty
// string (the bare --recompress flag, no "=value") means "all".
func ParseRecompressMode(s string) (RecompressMode, error) {
	switch s {
	case "", "all":
		return RecompressAll, nil
	case "none":
		return RecompressNone, nil
	case "metadata":
		return RecompressMetadata, nil
	case "block":
		return RecompressBlock, nil
	default:
		return 0, fmt.Errorf("unknown --recompress mode %q", s)
	}
}

// CompressionBinding names the codec (and its opaque option string)
// bound to a category, or to the default category "".
type CompressionBinding struct {
	Codec   string
	Options string
}

// OwnerOverride fixes every inode's uid or gid to a constant, per
// spec.md Section 6's --set-owner/--set-group.
type OwnerOverride struct {
	UID    uint32
	GID    uint32
	SetUID bool
	SetGID bool
}

// TimeOverride fixes every inode's mtime/atime/ctime to a constant
// epoch-seconds value, per spec.md Section 6's --set-time and Section
// 8 scenario 2 ("--set-time=100000001 yields exactly one distinct time
// across all inodes").
type TimeOverride struct {
	Epoch int64
	Set   bool
}

// Options configures a Writer. Fields are pre-parsed Go values: option
// string parsing (sizes, time specs, glob compilation) is the CLI
// layer's job, not this package's — this package implements the
// pipeline named in spec.md Section 4.2, not its flag surface (Section
// 6).
type Options struct {
	// Root is the directory tree to scan. Ignored if InputList is set.
	Root string
	// InputList, if non-empty, names a file (or "-" for stdin) listing
	// one path per line, relative to Root, instead of a full tree walk.
	InputList string

	Filters *filterrules.Set

	// BlockSizeExp is the block size as a power of two (12..28
	// exclusive of 2 and 100, per spec.md Section 4.2's inputs).
	BlockSizeExp uint

	Order             Order
	Nilsimsa          NilsimsaOptions
	MaxSimilaritySize int64

	FileHash dwarfshash.FileHashAlgorithm

	TimeResolution dwarfsmeta.TimeResolution
	SetTime        TimeOverride
	Owner          OwnerOverride
	ChmodNorm      bool

	PackFlags dwarfsmeta.PackFlags

	// Header is an opaque byte prefix copied verbatim before section 0.
	Header []byte

	DefaultCodec     CompressionBinding
	CategoryCodecs   map[string]CompressionBinding
	Registry         *dwarfscodec.Registry

	NumWorkers int

	// StrongChecksums controls whether emitted sections carry the
	// optional strong (SHA-256-class) checksum alongside the always-on
	// fast checksum, per spec.md Section 4.1.
	StrongChecksums bool

	Categorizer Categorizer

	// DumpInodesPath, if set, causes Build to write a per-inode debug
	// dump to this path, mirroring the DWARFS_DUMP_INODES environment
	// variable from spec.md Section 6.
	DumpInodesPath string

	// Command and ArgsSummary are recorded verbatim into the image's
	// history section.
	Command     string
	ArgsSummary string
}

// BlockSize returns 1 << BlockSizeExp, the decompressed size of a full
// block per spec.md Section 4.2 stage 5.
func (o *Options) BlockSize() int { return 1 << o.BlockSizeExp }

// ValidateBlockSizeExp checks the exponent range named in spec.md
// Section 4.2's inputs list: "block-size exponent (12-28, exclusive of
// 2 and 100)" — the "2 and 100" exclusions refer to historical
// magic-number exponents from the format's predecessor and never apply
// within the valid 12-28 range, so the only real constraint here is
// the range itself.
func ValidateBlockSizeExp(exp uint) error {
	if exp < 12 || exp > 28 {
		return fmt.Errorf("block-size exponent %d out of range [12,28]", exp)
	}
	return nil
}

// codecFor resolves the codec bound to a category, falling back to
// the default binding.
func (o *Options) codecFor(category string) (dwarfscodec.Codec, string, error) {
	binding := o.DefaultCodec
	if b, ok := o.CategoryCodecs[category]; ok {
		binding = b
	}
	if binding.Codec == "" {
		binding.Codec = "none"
	}
	c, err := o.Registry.Lookup(binding.Codec)
	if err != nil {
		return nil, "", fmt.Errorf("category %q: %w", category, err)
	}
	return c, binding.Options, nil
}
