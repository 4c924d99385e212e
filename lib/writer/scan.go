package writer

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/CrazyForks/dwarfs/lib/dwarfsmeta"
	"github.com/CrazyForks/dwarfs/lib/filterrules"
)

// Scan walks opts.Root (or reads opts.InputList) and returns every
// entry surviving the filter rules, per spec.md Section 4.2 stage 1.
// Directories are always included (even if empty) so the metadata
// stage can reconstruct the full tree; filter rules apply only to
// regular files, symlinks, and device nodes, matching the reference
// tool's "filters select content, not tree shape" behavior.
func Scan(opts *Options) ([]Entry, error) {
	if opts.InputList != "" {
		return scanInputList(opts)
	}
	return scanTree(opts)
}

func scanTree(opts *Options) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}
		rel, err := filepath.Rel(opts.Root, path)
		if err != nil {
			return fmt.Errorf("relativizing %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			rel = ""
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		if !d.IsDir() && rel != "" && opts.Filters != nil {
			if action, _ := opts.Filters.Matches(rel); action == filterrules.ActionExclude {
				return nil
			}
		}

		entry, err := statEntry(path, rel, info)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func scanInputList(opts *Options) ([]Entry, error) {
	var r io.Reader
	if opts.InputList == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(opts.InputList)
		if err != nil {
			return nil, fmt.Errorf("opening input list %s: %w", opts.InputList, err)
		}
		defer f.Close()
		r = f
	}

	// The root directory itself is always included first so the
	// metadata stage has a tree rather than a flat file set.
	rootInfo, err := os.Lstat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", opts.Root, err)
	}
	rootEntry, err := statEntry(opts.Root, "", rootInfo)
	if err != nil {
		return nil, err
	}
	entries := []Entry{rootEntry}
	seenDirs := map[string]bool{"": true}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		rel := filepath.ToSlash(strings.TrimSpace(scanner.Text()))
		if rel == "" {
			continue
		}
		if opts.Filters != nil {
			if action, _ := opts.Filters.Matches(rel); action == filterrules.ActionExclude {
				continue
			}
		}

		abs := filepath.Join(opts.Root, rel)
		info, err := os.Lstat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", abs, err)
		}

		if err := ensureParentDirs(opts, rel, &entries, seenDirs); err != nil {
			return nil, err
		}

		entry, err := statEntry(abs, rel, info)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", abs, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input list: %w", err)
	}
	return entries, nil
}

// ensureParentDirs synthesizes directory entries for rel's ancestors
// that weren't listed explicitly, since --input-list only names leaf
// paths of interest.
func ensureParentDirs(opts *Options, rel string, entries *[]Entry, seenDirs map[string]bool) error {
	dir := filepath.ToSlash(filepath.Dir(rel))
	if dir == "." {
		dir = ""
	}
	if dir == "" || seenDirs[dir] {
		return nil
	}
	if err := ensureParentDirs(opts, dir, entries, seenDirs); err != nil {
		return err
	}
	abs := filepath.Join(opts.Root, dir)
	info, err := os.Lstat(abs)
	if err != nil {
		return fmt.Errorf("stat implied directory %s: %w", abs, err)
	}
	entry, err := statEntry(abs, dir, info)
	if err != nil {
		return err
	}
	seenDirs[dir] = true
	*entries = append(*entries, entry)
	return nil
}

// statEntry converts an os.FileInfo into an Entry, resolving symlink
// targets and device major/minor numbers from the platform-specific
// syscall.Stat_t. No third-party library in the retrieved pack wraps
// this; it is inherently a thin syscall.Stat_t field read, so stdlib
// syscall is used directly rather than introducing a dependency for
// four integer field accesses.
func statEntry(absPath, rel string, info fs.FileInfo) (Entry, error) {
	e := Entry{
		Path: rel,
		Mode: uint32(info.Mode().Perm()),
		Size: info.Size(),
	}

	switch {
	case info.IsDir():
		e.Kind = dwarfsmeta.KindDirectory
	case info.Mode()&os.ModeSymlink != 0:
		e.Kind = dwarfsmeta.KindSymlink
		target, err := os.Readlink(absPath)
		if err != nil {
			return e, fmt.Errorf("reading symlink: %w", err)
		}
		e.LinkTarget = target
	case info.Mode()&(os.ModeDevice|os.ModeCharDevice) != 0:
		e.Kind = dwarfsmeta.KindDevice
	default:
		e.Kind = dwarfsmeta.KindRegular
		e.absPath = absPath
	}

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		e.UID = st.Uid
		e.GID = st.Gid
		e.MTime = st.Mtim.Sec
		e.ATime = st.Atim.Sec
		e.CTime = st.Ctim.Sec
		if e.Kind == dwarfsmeta.KindDevice {
			e.DeviceMajor = uint32((st.Rdev >> 8) & 0xfff)
			e.DeviceMinor = uint32((st.Rdev & 0xff) | ((st.Rdev >> 12) & 0xfff00))
		}
	} else {
		mtime := info.ModTime().Unix()
		e.MTime, e.ATime, e.CTime = mtime, mtime, mtime
	}

	return e, nil
}
