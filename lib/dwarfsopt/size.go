// Package dwarfsopt parses the CLI-facing option grammars named in
// spec.md Section 6 and Section 9 that lib/writer deliberately leaves
// to its caller: byte sizes with K/M/G suffixes, the --order=nilsimsa
// suboptions, the -C compression-binding syntax, and --set-time's
// epoch|now|"YYYY-MM-DD HH:MM" forms. lib/writer's Options doc comment
// is explicit about the split: "option string parsing (sizes, time
// specs, glob compilation) is the CLI layer's job, not this package's".
package dwarfsopt

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
)

// ParseSize parses a byte count with an optional unit suffix, for
// option values like --max-similarity-size and a future memory-limit
// flag (spec.md Section 9: "size suffixes accepted"). It defers to
// go-humanize's decimal/binary convention: "4KB" is 4000, "4KiB" is
// 4096; a bare unit letter with no "i" and no trailing "B" (e.g. "4K")
// is accepted too, by retrying with a "B" appended.
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		if retried, ok := bareUnitRetry(s); ok {
			n, err = humanize.ParseBytes(retried)
		}
	}
	if err != nil {
		return 0, dwarfserr.New(dwarfserr.KindBadArgs, fmt.Errorf("invalid size %q: %w", s, err))
	}
	return int64(n), nil
}

func bareUnitRetry(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", false
	}
	last := trimmed[len(trimmed)-1]
	switch last {
	case 'k', 'K', 'm', 'M', 'g', 'G', 't', 'T':
		return trimmed + "B", true
	default:
		return "", false
	}
}

// FormatSize renders n bytes in go-humanize's binary (IEC) form, for
// human-facing output such as dwarfsck's size summaries.
func FormatSize(n int64) string {
	return humanize.IBytes(uint64(n))
}
