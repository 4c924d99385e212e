// Package dwarfscli implements the four tool entry points named in
// spec.md Section 6 — mkdwarfs, dwarfsck, dwarfsextract, and the
// foreground FUSE mount tool (dwarfs) — plus the universal binary
// dispatcher. Each exported tool function (Mkdwarfs, Dwarfsck,
// Dwarfsextract, Dwarfs) takes argv (without the program name) and the
// streams to write to, and returns a process
// exit code per dwarfserr.ExitCode; the cmd/* packages are thin
// os.Args/os.Exit wrappers around these.
package dwarfscli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/CrazyForks/dwarfs/lib/dwarfscodec"
	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
	"github.com/CrazyForks/dwarfs/lib/dwarfshash"
	"github.com/CrazyForks/dwarfs/lib/dwarfsmeta"
	"github.com/CrazyForks/dwarfs/lib/dwarfsopt"
	"github.com/CrazyForks/dwarfs/lib/filterrules"
	"github.com/CrazyForks/dwarfs/lib/writer"
)

// levelPreset maps the -l 0..9 preset to a block-size exponent and
// default order, matching the reference tool's "higher level, bigger
// blocks, fancier ordering" tradeoff without exposing each knob it
// touches internally.
func levelPreset(level int) (blockSizeExp uint, order writer.Order) {
	switch {
	case level <= 2:
		return 20, writer.OrderNone
	case level <= 5:
		return 22, writer.OrderPath
	case level <= 7:
		return 24, writer.OrderSimilarity
	default:
		return 26, writer.OrderNilsimsa
	}
}

// Mkdwarfs implements the mkdwarfs tool: build a new image from a
// directory tree, or recompress an existing one, per spec.md Section
// 6's "mkdwarfs -i <path> -o <image>".
func Mkdwarfs(ctx context.Context, args []string, stderr io.Writer) int {
	fs := pflag.NewFlagSet("mkdwarfs", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		input             string
		output            string
		level             int
		blockSizeExp      uint
		orderStr          string
		fileHashStr       string
		timeResolutionStr string
		setTimeStr        string
		setOwner          int64
		setGroup          int64
		chmodNorm         bool
		packMetadataStr   string
		headerPath        string
		removeHeader      bool
		inputList         string
		filterFiles       []string
		compressionOpts   []string
		recompressStr     string
		recompressCats    string
		maxSimilaritySize string
		force             bool
		strongChecksums   bool
		workers           int
	)

	fs.StringVarP(&input, "input", "i", "", "input directory (or existing image, with --recompress)")
	fs.StringVarP(&output, "output", "o", "", "output image path")
	fs.IntVarP(&level, "level", "l", 7, "compression level preset (0-9)")
	fs.UintVarP(&blockSizeExp, "block-size-bits", "S", 0, "block size exponent (12-28); overrides the -l preset")
	fs.StringVar(&orderStr, "order", "", "inode order: none|path|revpath|similarity|nilsimsa[:...]")
	fs.StringVar(&fileHashStr, "file-hash", string(dwarfshash.FileHashBlake3), "chunk dedup hash: blake3|sha256|none")
	fs.StringVar(&timeResolutionStr, "time-resolution", "sec", "timestamp granularity: sec|min|hour|day|N")
	fs.StringVar(&setTimeStr, "set-time", "", "fix every inode's times to epoch|now|\"YYYY-MM-DD HH:MM\"")
	fs.Int64Var(&setOwner, "set-owner", -1, "fix every inode's uid")
	fs.Int64Var(&setGroup, "set-group", -1, "fix every inode's gid")
	fs.BoolVar(&chmodNorm, "chmod-norm", false, "normalize permissions to r--r--r--/r-xr-xr-x")
	fs.StringVar(&packMetadataStr, "pack-metadata", "all", "metadata packing flags, comma-separated")
	fs.StringVar(&headerPath, "header", "", "prepend this file's bytes as an opaque header")
	fs.BoolVar(&removeHeader, "remove-header", false, "strip any existing header when recompressing")
	fs.StringVar(&inputList, "input-list", "", "read input paths from this file (or \"-\" for stdin) instead of walking -i")
	fs.StringArrayVarP(&filterFiles, "filter", "F", nil, "filter rule file (repeatable); - for stdin")
	fs.StringArrayVarP(&compressionOpts, "compression", "C", nil, "cat::codec[:opts] compression binding (repeatable)")
	fs.StringVar(&recompressStr, "recompress", "", "recompress an existing image instead of building: all|none|metadata|block")
	fs.StringVar(&recompressCats, "recompress-categories", "", "[!]cat1,cat2 category filter for --recompress=block")
	fs.StringVar(&maxSimilaritySize, "max-similarity-size", "", "files above this size sort by size, not similarity")
	fs.BoolVar(&force, "force", false, "overwrite an existing output file")
	fs.BoolVar(&strongChecksums, "strong-checksums", true, "write strong (SHA-256-class) section checksums")
	fs.IntVarP(&workers, "num-workers", "n", 0, "block-compression worker count (0 = NumCPU)")
	fs.String("categorize", "", "accepted for compatibility; no categorizer plugins are built in")
	fs.String("progress", "none", "accepted for compatibility; progress reporting is not implemented")
	fs.String("debug-filter", "", "accepted for compatibility; filter tracing is not implemented")
	help := fs.BoolP("help", "h", false, "show help")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	if *help {
		fs.PrintDefaults()
		return 0
	}

	if input == "" || output == "" {
		fmt.Fprintln(stderr, "ERROR: -i and -o are required")
		return 1
	}

	if !force {
		if _, err := os.Stat(output); err == nil {
			fmt.Fprintf(stderr, "ERROR: output %s already exists; pass --force to overwrite\n", output)
			return 1
		}
	}

	if recompressStr != "" {
		return runRecompress(ctx, input, output, recompressStr, recompressCats, removeHeader, headerPath, strongChecksums, workers, stderr)
	}

	opts, err := buildOptions(input, blockSizeExp, level, orderStr, fileHashStr, timeResolutionStr,
		setTimeStr, setOwner, setGroup, chmodNorm, packMetadataStr, headerPath, inputList,
		filterFiles, compressionOpts, maxSimilaritySize, strongChecksums, workers)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return dwarfserr.ExitCode(err)
	}
	opts.Command = "mkdwarfs"
	opts.ArgsSummary = fmt.Sprintf("%v", args)

	out, err := os.Create(output)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: creating %s: %v\n", output, err)
		return 1
	}
	defer out.Close()

	stats, err := writer.Build(ctx, opts, out)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		os.Remove(output)
		return dwarfserr.ExitCode(err)
	}

	fmt.Fprintf(stderr, "%d entries, %d fragments, %d unique chunks, %d blocks, %s\n",
		stats.Entries, stats.Fragments, stats.UniqueChunks, stats.Blocks, dwarfsopt.FormatSize(stats.ImageBytes))
	return 0
}

func buildOptions(
	root string,
	blockSizeExp uint, level int, orderStr, fileHashStr, timeResolutionStr, setTimeStr string,
	setOwner, setGroup int64, chmodNorm bool, packMetadataStr, headerPath, inputList string,
	filterFiles, compressionOpts []string, maxSimilaritySize string, strongChecksums bool, workers int,
) (*writer.Options, error) {
	presetBlockSizeExp, presetOrder := levelPreset(level)
	if blockSizeExp == 0 {
		blockSizeExp = presetBlockSizeExp
	}
	if err := writer.ValidateBlockSizeExp(blockSizeExp); err != nil {
		return nil, dwarfserr.New(dwarfserr.KindBadArgs, err)
	}

	order := presetOrder
	var nilsimsa writer.NilsimsaOptions
	if orderStr != "" {
		mode, rest, _ := cutOrder(orderStr)
		var err error
		order, err = writer.ParseOrder(mode)
		if err != nil {
			return nil, dwarfserr.New(dwarfserr.KindBadArgs, err)
		}
		if order == writer.OrderNilsimsa {
			if nilsimsa, err = dwarfsopt.ParseNilsimsaOptions(rest); err != nil {
				return nil, err
			}
		}
	} else if order == writer.OrderNilsimsa {
		nilsimsa = writer.DefaultNilsimsaOptions()
	}

	fileHash, err := dwarfshash.ParseFileHashAlgorithm(fileHashStr)
	if err != nil {
		return nil, dwarfserr.New(dwarfserr.KindBadArgs, err)
	}

	timeResolution, err := dwarfsmeta.ParseTimeResolution(timeResolutionStr)
	if err != nil {
		return nil, dwarfserr.New(dwarfserr.KindBadArgs, err)
	}

	var setTime writer.TimeOverride
	if setTimeStr != "" {
		if setTime, err = dwarfsopt.ParseSetTime(setTimeStr); err != nil {
			return nil, err
		}
	}

	owner := writer.OwnerOverride{}
	if setOwner >= 0 {
		owner.UID, owner.SetUID = uint32(setOwner), true
	}
	if setGroup >= 0 {
		owner.GID, owner.SetGID = uint32(setGroup), true
	}

	packFlags, err := dwarfsmeta.ParsePackFlags(packMetadataStr)
	if err != nil {
		return nil, dwarfserr.New(dwarfserr.KindBadArgs, err)
	}

	var header []byte
	if headerPath != "" {
		if header, err = os.ReadFile(headerPath); err != nil {
			return nil, dwarfserr.New(dwarfserr.KindIO, err)
		}
	}

	var maxSimBytes int64
	if maxSimilaritySize != "" {
		if maxSimBytes, err = dwarfsopt.ParseSize(maxSimilaritySize); err != nil {
			return nil, err
		}
	}

	filters, err := compileFilters(filterFiles)
	if err != nil {
		return nil, err
	}

	opts := &writer.Options{
		Root:              root,
		InputList:         inputList,
		Filters:           filters,
		BlockSizeExp:      blockSizeExp,
		Order:             order,
		Nilsimsa:          nilsimsa,
		MaxSimilaritySize: maxSimBytes,
		FileHash:          fileHash,
		TimeResolution:    timeResolution,
		SetTime:           setTime,
		Owner:             owner,
		ChmodNorm:         chmodNorm,
		PackFlags:         packFlags,
		Header:            header,
		CategoryCodecs:    map[string]writer.CompressionBinding{},
		Registry:          dwarfscodec.NewRegistry(),
		NumWorkers:        workers,
		StrongChecksums:   strongChecksums,
	}

	if err := dwarfsopt.ParseCompressionBindings(opts, compressionOpts); err != nil {
		return nil, err
	}
	return opts, nil
}

// cutOrder splits "nilsimsa:max-children=8" into ("nilsimsa",
// ":max-children=8"). Modes other than nilsimsa carry no suboptions.
func cutOrder(s string) (mode, rest string, hasRest bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i:], true
		}
	}
	return s, "", false
}

func compileFilters(filterFiles []string) (*filterrules.Set, error) {
	if len(filterFiles) == 0 {
		return nil, nil
	}
	combined := &filterrules.Set{}
	for _, path := range filterFiles {
		var r io.Reader
		if path == "-" {
			r = os.Stdin
		} else {
			f, err := os.Open(path)
			if err != nil {
				return nil, dwarfserr.New(dwarfserr.KindIO, err)
			}
			defer f.Close()
			r = f
		}
		set, err := filterrules.Compile(r, path, filterrules.FSLoader{FS: os.DirFS("."), Base: "."})
		if err != nil {
			return nil, err
		}
		combined.Append(set)
	}
	return combined, nil
}

func runRecompress(ctx context.Context, input, output, recompressStr, recompressCats string,
	removeHeader bool, headerPath string, strongChecksums bool, workers int, stderr io.Writer,
) int {
	image, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: reading %s: %v\n", input, err)
		return 1
	}

	mode, err := writer.ParseRecompressMode(recompressStr)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	cats, err := parseRecompressCategories(recompressCats)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	_, existingHeader, body, err := splitHeader(image, dwarfsfmt.ImageOffsetAuto)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return dwarfserr.ExitCode(err)
	}

	var newHeader []byte
	switch {
	case removeHeader:
		newHeader = nil
	case headerPath != "":
		if newHeader, err = os.ReadFile(headerPath); err != nil {
			fmt.Fprintf(stderr, "ERROR: reading %s: %v\n", headerPath, err)
			return 1
		}
	default:
		newHeader = existingHeader
	}

	if workers <= 0 {
		workers = 1
	}
	opts := &writer.Options{
		Header:     newHeader,
		Registry:   dwarfscodec.NewRegistry(),
		NumWorkers: workers,
	}

	out, err := os.Create(output)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: creating %s: %v\n", output, err)
		return 1
	}
	defer out.Close()

	if len(newHeader) > 0 {
		if _, err := out.Write(newHeader); err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
	}

	if _, err := writer.Recompress(ctx, opts, mode, cats, body, strongChecksums, out); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		os.Remove(output)
		return dwarfserr.ExitCode(err)
	}
	return 0
}

func parseRecompressCategories(s string) (writer.RecompressCategories, error) {
	if s == "" {
		return writer.RecompressCategories{}, nil
	}
	invert := false
	if s[0] == '!' {
		invert = true
		s = s[1:]
	}
	var cats []string
	for _, part := range splitComma(s) {
		if part != "" {
			cats = append(cats, part)
		}
	}
	return writer.RecompressCategories{Categories: cats, Invert: invert}, nil
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
