package dwarfsmeta

import (
	"fmt"
	"strings"
)

// PackFlags is the bitset of --pack-metadata options from spec.md
// Section 6.
type PackFlags uint16

const (
	PackChunkTable PackFlags = 1 << iota
	PackDirectories
	PackSharedFiles
	PackNames
	PackNamesIndex
	PackSymlinks
	PackSymlinksIndex
	PackForce
	PackPlain
)

// PackAll is every packing option except the mutually exclusive Plain
// and Force modifiers.
const PackAll = PackChunkTable | PackDirectories | PackSharedFiles | PackNames | PackNamesIndex | PackSymlinks | PackSymlinksIndex

var packFlagNames = []struct {
	flag PackFlags
	name string
}{
	{PackChunkTable, "chunk_table"},
	{PackDirectories, "directories"},
	{PackSharedFiles, "shared_files"},
	{PackNames, "names"},
	{PackNamesIndex, "names_index"},
	{PackSymlinks, "symlinks"},
	{PackSymlinksIndex, "symlinks_index"},
	{PackForce, "force"},
	{PackPlain, "plain"},
}

// ParsePackFlags parses a comma-separated --pack-metadata option
// value. "none" clears all flags; "all" sets PackAll; "plain"
// disables all name/symlink packing per spec.md Section 6 ("plain
// disables all name/symlink packing").
func ParsePackFlags(s string) (PackFlags, error) {
	var flags PackFlags
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch part {
		case "none":
			flags = 0
		case "all":
			flags |= PackAll
		case "plain":
			flags |= PackPlain
			flags &^= PackNames | PackNamesIndex | PackSymlinks | PackSymlinksIndex
		default:
			found := false
			for _, pf := range packFlagNames {
				if pf.name == part {
					flags |= pf.flag
					found = true
					break
				}
			}
			if !found {
				return 0, fmt.Errorf("unknown --pack-metadata flag %q", part)
			}
		}
	}
	return flags, nil
}

// Names returns the set flag names, for info_as_dynamic(2).options
// (spec.md Section 8 scenario 6: "packed_chunk_table, packed_directories, ...").
func (f PackFlags) Names() []string {
	// PackSymlinks itself has no "packed_symlinks" entry in
	// info_as_dynamic's options (spec.md Section 8 scenario 6 lists
	// packed_symlinks_index but not a bare packed_symlinks); only
	// PackSymlinksIndex surfaces there.
	var names []string
	for _, pf := range packFlagNames {
		if pf.flag == PackForce || pf.flag == PackPlain || pf.flag == PackSymlinks {
			continue
		}
		if f&pf.flag != 0 {
			names = append(names, "packed_"+nameFor(pf.flag))
		}
	}
	return names
}

func nameFor(flag PackFlags) string {
	switch flag {
	case PackChunkTable:
		return "chunk_table"
	case PackDirectories:
		return "directories"
	case PackSharedFiles:
		return "shared_files_table"
	case PackNames:
		return "names"
	case PackNamesIndex:
		return "names_index"
	case PackSymlinks:
		return "symlinks"
	case PackSymlinksIndex:
		return "symlinks_index"
	default:
		return ""
	}
}

func (f PackFlags) Has(flag PackFlags) bool { return f&flag != 0 }
