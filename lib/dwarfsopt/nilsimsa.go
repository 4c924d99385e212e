package dwarfsopt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
	"github.com/CrazyForks/dwarfs/lib/writer"
)

// ParseNilsimsaOptions parses the suboptions of
// --order=nilsimsa[:max-children=K][:max-cluster-size=N] (spec.md
// Section 6), given everything after the leading "nilsimsa" token
// (including or excluding its leading colon — both are accepted).
// Unset suboptions keep writer.DefaultNilsimsaOptions's values. The
// result is validated before return, per spec.md Section 9's "both
// knobs must be validated before use (positive...)".
func ParseNilsimsaOptions(suboptions string) (writer.NilsimsaOptions, error) {
	opts := writer.DefaultNilsimsaOptions()
	suboptions = strings.TrimPrefix(suboptions, ":")
	if suboptions == "" {
		return opts, nil
	}

	for _, part := range strings.Split(suboptions, ":") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return opts, dwarfserr.New(dwarfserr.KindBadArgs,
				fmt.Errorf("invalid --order=nilsimsa suboption %q: expected key=value", part))
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return opts, dwarfserr.New(dwarfserr.KindBadArgs,
				fmt.Errorf("invalid --order=nilsimsa suboption %q: %w", part, err))
		}
		switch key {
		case "max-children":
			opts.MaxChildren = n
		case "max-cluster-size":
			opts.MaxClusterSize = n
		default:
			return opts, dwarfserr.New(dwarfserr.KindBadArgs,
				fmt.Errorf("unknown --order=nilsimsa suboption %q", key))
		}
	}

	if err := opts.Validate(); err != nil {
		return opts, dwarfserr.New(dwarfserr.KindBadArgs, err)
	}
	return opts, nil
}
