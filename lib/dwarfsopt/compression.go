package dwarfsopt

import (
	"fmt"
	"strings"

	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
	"github.com/CrazyForks/dwarfs/lib/writer"
)

// ParseCompressionBinding parses one -C option value, per spec.md
// Section 6's "-C cat::codec[:opts]" grammar. A value with no "::"
// binds the default category ("" in writer.Options.DefaultCodec); a
// value of the form "cat::codec[:opts]" binds a specific category.
// The codec name and its opaque option string are passed through
// unparsed — lib/dwarfscodec's Registry owns the per-codec option
// grammar.
func ParseCompressionBinding(s string) (category string, binding writer.CompressionBinding, err error) {
	category, rest, hasCategory := strings.Cut(s, "::")
	if !hasCategory {
		rest = s
		category = ""
	}
	if rest == "" {
		return "", writer.CompressionBinding{}, dwarfserr.New(dwarfserr.KindBadArgs,
			fmt.Errorf("invalid -C value %q: missing codec", s))
	}

	codec, options, _ := strings.Cut(rest, ":")
	return category, writer.CompressionBinding{Codec: codec, Options: options}, nil
}

// ParseCompressionBindings applies a sequence of -C option values
// (repeatable on the command line) to opts, binding each to its
// category and recording a bare, category-less value as the default
// codec.
func ParseCompressionBindings(opts *writer.Options, values []string) error {
	if opts.CategoryCodecs == nil {
		opts.CategoryCodecs = make(map[string]writer.CompressionBinding)
	}
	for _, v := range values {
		category, binding, err := ParseCompressionBinding(v)
		if err != nil {
			return err
		}
		if category == "" {
			opts.DefaultCodec = binding
			continue
		}
		opts.CategoryCodecs[category] = binding
	}
	return nil
}
