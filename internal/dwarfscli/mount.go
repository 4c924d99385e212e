package dwarfscli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/CrazyForks/dwarfs/fuse"
	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
	"github.com/CrazyForks/dwarfs/lib/reader"
)

// Dwarfs implements the foreground FUSE mount tool: `dwarfs <image>
// <mountpoint>`, per original_source/tools/src/universal.cpp's
// function table entry for "dwarfs" itself (the tool named after the
// format, distinct from dwarfsck/dwarfsextract). Runs until
// interrupted, then unmounts cleanly.
func Dwarfs(ctx context.Context, args []string, stderr io.Writer) int {
	fs := pflag.NewFlagSet("dwarfs", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		imageOffsetStr string
		allowOther     bool
		foreground     bool
	)
	fs.StringVar(&imageOffsetStr, "image-offset", "auto", "auto|<bytes>")
	fs.BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")
	fs.BoolVarP(&foreground, "foreground", "f", true, "run in the foreground (always true; no daemonization)")
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
	if len(positional) != 2 {
		fmt.Fprintln(stderr, "ERROR: usage: dwarfs <image> <mountpoint>")
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

	server, err := fuse.Mount(fuse.Options{
		Mountpoint: positional[1],
		Reader:     r,
		AllowOther: allowOther,
	})
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-signalCtx.Done():
		if err := server.Unmount(); err != nil {
			fmt.Fprintf(stderr, "ERROR: unmounting: %v\n", err)
			return 1
		}
		<-done
	case <-done:
		// unmounted externally (e.g. fusermount -u)
	}
	return 0
}
