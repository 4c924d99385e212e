package dwarfscli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
	"github.com/CrazyForks/dwarfs/lib/dwarfshash"
	"github.com/CrazyForks/dwarfs/lib/dwarfsmeta"
	"github.com/CrazyForks/dwarfs/lib/reader"
)

// exportEntry is one line of --export-metadata's JSON array: the
// decoded tree flattened to what a consumer actually wants (path and
// attributes), rather than the packed on-disk Metadata struct.
type exportEntry struct {
	Path  string `json:"path"`
	Inode uint32 `json:"inode"`
	Kind  string `json:"kind"`
	Size  uint64 `json:"size"`
	Mode  uint32 `json:"mode"`
	UID   uint32 `json:"uid"`
	GID   uint32 `json:"gid"`
	MTime uint64 `json:"mtime"`
}

// Dwarfsck implements the dwarfsck tool: verify, list, and inspect an
// already-built image, per spec.md Section 6's "dwarfsck <image>".
func Dwarfsck(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("dwarfsck", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		checkIntegrity bool
		noCheck        bool
		checksumAlgo   string
		listFlag       bool
		jsonFlag       bool
		printHeader    bool
		exportPath     string
		imageOffsetStr string
		workers        int
	)
	fs.BoolVar(&checkIntegrity, "check-integrity", false, "decompress and verify every block's strong checksum")
	fs.BoolVar(&noCheck, "no-check", false, "skip checksum verification entirely")
	fs.StringVar(&checksumAlgo, "checksum", "", "print a content hash of each block using this algorithm (blake3|sha256)")
	fs.BoolVar(&listFlag, "list", false, "list every path in the image")
	fs.BoolVar(&jsonFlag, "json", false, "emit machine-readable JSON instead of text")
	fs.BoolVar(&printHeader, "print-header", false, "print the image's opaque header bytes to stdout")
	fs.StringVar(&exportPath, "export-metadata", "", "write the decoded metadata tree as JSON to this file")
	fs.StringVar(&imageOffsetStr, "image-offset", "auto", "auto|<bytes>")
	fs.IntVarP(&workers, "num-workers", "n", 0, "check worker count (0 = NumCPU)")
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
	positional := fs.Args()
	if len(positional) != 1 {
		fmt.Fprintln(stderr, "ERROR: expected exactly one image path")
		return 1
	}

	imageOffset, err := parseImageOffset(imageOffsetStr)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	image, err := os.ReadFile(positional[0])
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: reading %s: %v\n", positional[0], err)
		return 1
	}

	if printHeader {
		_, header, _, err := splitHeader(image, imageOffset)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return dwarfserr.ExitCode(err)
		}
		if len(header) == 0 {
			fmt.Fprintln(stderr, "ERROR: image has no header")
			return 2
		}
		stdout.Write(header)
		return 0
	}

	r, err := reader.Open(image, reader.OpenOptions{ImageOffset: imageOffset, CacheWorkers: workers})
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return dwarfserr.ExitCode(err)
	}
	defer r.Close()

	if checksumAlgo != "" {
		if err := printChecksums(ctx, stdout, r, checksumAlgo); err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
	}

	if listFlag {
		if jsonFlag {
			if err := exportMetadataJSON(stdout, r); err != nil {
				fmt.Fprintf(stderr, "ERROR: %v\n", err)
				return 1
			}
		} else if err := r.Dump(stdout, 1); err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
	}

	if exportPath != "" {
		f, err := os.Create(exportPath)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: creating %s: %v\n", exportPath, err)
			return 1
		}
		defer f.Close()
		if err := exportMetadataJSON(f, r); err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
	}

	if noCheck {
		return 0
	}

	level := dwarfsfmt.CheckFast
	if checkIntegrity {
		level = dwarfsfmt.CheckFull
	}
	errCount, err := r.Check(ctx, level, workers)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	if errCount > 0 {
		fmt.Fprintf(stderr, "%d integrity error(s) found\n", errCount)
		return 1
	}
	fmt.Fprintln(stderr, "0 errors")
	return 0
}

func parseImageOffset(s string) (int, error) {
	if s == "" || s == "auto" {
		return dwarfsfmt.ImageOffsetAuto, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid --image-offset %q", s)
	}
	return n, nil
}

func exportMetadataJSON(w io.Writer, r *reader.FilesystemReader) error {
	var entries []exportEntry
	err := r.Walk(func(p string, inode uint32, info dwarfsmeta.InodeInfo) error {
		entries = append(entries, exportEntry{
			Path:  p,
			Inode: inode,
			Kind:  kindName(info.Kind),
			Size:  info.Size,
			Mode:  info.Mode,
			UID:   info.UID,
			GID:   info.GID,
			MTime: info.MTime,
		})
		return nil
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func kindName(k dwarfsmeta.EntryKind) string {
	switch k {
	case dwarfsmeta.KindRegular:
		return "file"
	case dwarfsmeta.KindDirectory:
		return "directory"
	case dwarfsmeta.KindSymlink:
		return "symlink"
	case dwarfsmeta.KindDevice:
		return "device"
	default:
		return "unknown"
	}
}

func printChecksums(ctx context.Context, w io.Writer, r *reader.FilesystemReader, algo string) error {
	info := r.InfoAsDynamic(2)
	for _, b := range info.Blocks {
		future, err := r.Block(b.Number)
		if err != nil {
			return err
		}
		rng, err := future.Wait(ctx)
		if err != nil {
			return err
		}
		var sum string
		switch algo {
		case "blake3":
			sum = dwarfshash.FormatHash(dwarfshash.HashBlock(rng.Bytes()))
		case "sha256":
			h := dwarfshash.StrongChecksum(rng.Bytes())
			sum = dwarfshash.FormatHash(dwarfshash.Hash(h))
		default:
			rng.Release()
			return fmt.Errorf("unknown --checksum algorithm %q", algo)
		}
		fmt.Fprintf(w, "block %d: %s\n", b.Number, sum)
		rng.Release()
	}
	return nil
}
