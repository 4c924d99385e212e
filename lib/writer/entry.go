package writer

import "github.com/CrazyForks/dwarfs/lib/dwarfsmeta"

// Entry is one scanned filesystem object, produced by Scan per
// spec.md Section 4.2 stage 1. Paths are "/"-separated and relative to
// the scan root, matching the glob grammar filterrules.Set.Matches
// expects.
type Entry struct {
	Path string
	Kind dwarfsmeta.EntryKind

	Mode uint32
	UID  uint32
	GID  uint32

	MTime int64
	ATime int64
	CTime int64

	Size int64

	// LinkTarget holds a symlink's target, valid only for KindSymlink.
	LinkTarget string

	// DeviceMajor/DeviceMinor are valid only for KindDevice.
	DeviceMajor uint32
	DeviceMinor uint32

	// absPath is the real filesystem path Build reads file content
	// from; unset for entries sourced from a recompressed image.
	absPath string
}
