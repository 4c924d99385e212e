package dwarfscli

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
	"github.com/CrazyForks/dwarfs/lib/dwarfsmeta"
	"github.com/CrazyForks/dwarfs/lib/reader"
)

// Dwarfsextract implements the dwarfsextract tool: materialize an
// image's tree as a real directory, or stream it out in an archive
// format, per spec.md Section 6's "dwarfsextract <image>".
func Dwarfsextract(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("dwarfsextract", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		format         string
		output         string
		imageOffsetStr string
		stdoutProgress bool
	)
	fs.StringVarP(&format, "format", "f", "dir", "output format: mtree|dir|tar|cpio")
	fs.StringVarP(&output, "output", "o", "", "destination directory (for -f dir); other formats always write to stdout")
	fs.StringVar(&imageOffsetStr, "image-offset", "auto", "auto|<bytes>")
	fs.BoolVar(&stdoutProgress, "stdout-progress", false, "accepted for compatibility; progress reporting is not implemented")
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

	r, err := reader.Open(image, reader.OpenOptions{ImageOffset: imageOffset})
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return dwarfserr.ExitCode(err)
	}
	defer r.Close()

	switch format {
	case "dir":
		if output == "" {
			fmt.Fprintln(stderr, "ERROR: -f dir requires -o <directory>")
			return 1
		}
		err = extractDir(ctx, r, output)
	case "mtree":
		err = extractMtree(stdout, r)
	case "tar":
		err = extractTar(ctx, stdout, r)
	case "cpio":
		err = dwarfserr.New(dwarfserr.KindBadArgs, fmt.Errorf("-f cpio is not implemented: no cpio encoder in this build"))
	default:
		err = dwarfserr.New(dwarfserr.KindBadArgs, fmt.Errorf("unknown -f format %q", format))
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return dwarfserr.ExitCode(err)
	}
	return 0
}

// readFull reads an entire regular file's content through the block
// cache, in ReadV's chunk order.
func readFull(ctx context.Context, r *reader.FilesystemReader, inode uint32, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	futures, err := r.ReadV(inode, int64(size), 0)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, size)
	for _, future := range futures {
		rng, err := future.Wait(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, rng.Bytes()...)
		rng.Release()
	}
	return out, nil
}

func extractDir(ctx context.Context, r *reader.FilesystemReader, destRoot string) error {
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return dwarfserr.New(dwarfserr.KindIO, err)
	}
	return r.Walk(func(p string, inode uint32, info dwarfsmeta.InodeInfo) error {
		if p == "" {
			return nil
		}
		dest := filepath.Join(destRoot, p)
		switch info.Kind {
		case dwarfsmeta.KindDirectory:
			return dwarfserr.New(dwarfserr.KindIO, mkdirIfNeeded(dest, os.FileMode(info.Mode|0o700)))
		case dwarfsmeta.KindSymlink:
			target, err := r.ReadLink(inode)
			if err != nil {
				return err
			}
			return dwarfserr.New(dwarfserr.KindIO, os.Symlink(target, dest))
		case dwarfsmeta.KindDevice:
			mode := uint32(unix.S_IFBLK) | info.Mode
			return dwarfserr.New(dwarfserr.KindIO, unix.Mknod(dest, mode, int(unix.Mkdev(info.DeviceMajor, info.DeviceMinor))))
		default:
			data, err := readFull(ctx, r, inode, info.Size)
			if err != nil {
				return err
			}
			return dwarfserr.New(dwarfserr.KindIO, os.WriteFile(dest, data, os.FileMode(info.Mode|0o600)))
		}
	})
}

func mkdirIfNeeded(path string, mode os.FileMode) error {
	if err := os.Mkdir(path, mode); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func extractMtree(w io.Writer, r *reader.FilesystemReader) error {
	fmt.Fprintln(w, "#mtree")
	return r.Walk(func(p string, inode uint32, info dwarfsmeta.InodeInfo) error {
		if p == "" {
			p = "."
		}
		name := "./" + p
		typeName := "file"
		switch info.Kind {
		case dwarfsmeta.KindDirectory:
			typeName = "dir"
		case dwarfsmeta.KindSymlink:
			typeName = "link"
		case dwarfsmeta.KindDevice:
			typeName = "block"
		}
		_, err := fmt.Fprintf(w, "%s type=%s size=%d time=%d.0 mode=%o uid=%d gid=%d\n",
			name, typeName, info.Size, info.MTime, info.Mode, info.UID, info.GID)
		return err
	})
}

func extractTar(ctx context.Context, w io.Writer, r *reader.FilesystemReader) error {
	tw := tar.NewWriter(w)
	defer tw.Close()
	return r.Walk(func(p string, inode uint32, info dwarfsmeta.InodeInfo) error {
		if p == "" {
			return nil
		}
		hdr := &tar.Header{
			Name:     p,
			Mode:     int64(info.Mode),
			Uid:      int(info.UID),
			Gid:      int(info.GID),
			ModTime:  time.Unix(int64(info.MTime), 0),
			Typeflag: tarTypeFlag(info.Kind),
		}
		switch info.Kind {
		case dwarfsmeta.KindDirectory:
			hdr.Name += "/"
		case dwarfsmeta.KindSymlink:
			target, err := r.ReadLink(inode)
			if err != nil {
				return err
			}
			hdr.Linkname = target
		case dwarfsmeta.KindRegular:
			hdr.Size = int64(info.Size)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Kind != dwarfsmeta.KindRegular {
			return nil
		}
		data, err := readFull(ctx, r, inode, info.Size)
		if err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
}

func tarTypeFlag(k dwarfsmeta.EntryKind) byte {
	switch k {
	case dwarfsmeta.KindDirectory:
		return tar.TypeDir
	case dwarfsmeta.KindSymlink:
		return tar.TypeSymlink
	case dwarfsmeta.KindDevice:
		return tar.TypeBlock
	default:
		return tar.TypeReg
	}
}
