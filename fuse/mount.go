// Package fuse mounts a reader.FilesystemReader as a read-only FUSE
// filesystem, per spec.md Section 1's boundary contract: the reader
// façade is the thing a FUSE host adapter sits on top of, not a
// reimplementation of it. The mount wiring, InodeEmbedder layering,
// and Options shape are adapted from the teacher's
// lib/artifactstore/fuse/mount.go, stripped of everything specific to
// writable tag/CAS namespaces — DwarFS images are immutable, so there
// is no Create, no write handle, and no compare-and-swap on close.
package fuse

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/CrazyForks/dwarfs/lib/reader"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// Reader is the already-opened image to serve.
	Reader *reader.FilesystemReader

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Mount mounts options.Reader's image at options.Mountpoint. The
// caller must call Unmount on the returned Server when done. The
// mountpoint directory is created if it does not exist.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &inodeNode{fs: &options, ino: options.Reader.RootInode()}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "dwarfs",
			Name:       "dwarfs",
			AllowOther: options.AllowOther,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("dwarfs image mounted", "mountpoint", options.Mountpoint)
	return server, nil
}
