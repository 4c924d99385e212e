package dwarfsopt

import (
	"fmt"
	"io"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
	"github.com/CrazyForks/dwarfs/lib/filterrules"
	"github.com/CrazyForks/dwarfs/lib/writer"
)

// CompressionBindingEntry is one compression binding as it appears in
// a config file: either the default binding (Category empty) or a
// per-category override.
type CompressionBindingEntry struct {
	Category string `yaml:"category"`
	Codec    string `yaml:"codec"`
	Options  string `yaml:"options"`
}

// Config is the optional YAML document accepted alongside the `-F`
// (filter rules) and `-C` (compression bindings) flag forms, per
// SPEC_FULL.md's note that these two option families can also live in
// a config file rather than being repeated on the command line for
// every build.
type Config struct {
	CompressionBindings []CompressionBindingEntry `yaml:"compression_bindings"`
	FilterRules         []string                  `yaml:"filter_rules"`
}

// LoadConfig decodes a Config document from r.
func LoadConfig(r io.Reader) (Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, dwarfserr.New(dwarfserr.KindBadArgs, fmt.Errorf("decoding config: %w", err))
	}
	return cfg, nil
}

// Apply binds cfg's compression bindings onto opts, in document order
// (later entries for the same category win), the same last-one-wins
// rule ParseCompressionBindings applies to repeated -C flags.
func (cfg Config) Apply(opts *writer.Options) error {
	if opts.CategoryCodecs == nil {
		opts.CategoryCodecs = make(map[string]writer.CompressionBinding)
	}
	for _, entry := range cfg.CompressionBindings {
		binding := writer.CompressionBinding{Codec: entry.Codec, Options: entry.Options}
		if entry.Category == "" {
			opts.DefaultCodec = binding
			continue
		}
		opts.CategoryCodecs[entry.Category] = binding
	}
	return nil
}

// CompileFilterRules compiles cfg.FilterRules (one rule or merge
// directive per entry) into a filterrules.Set. fsys and base resolve
// any merge directives among the inline rules, relative to the
// directory the config file itself was loaded from.
func (cfg Config) CompileFilterRules(fsys fs.FS, base string) (*filterrules.Set, error) {
	if len(cfg.FilterRules) == 0 {
		return &filterrules.Set{}, nil
	}
	body := strings.Join(cfg.FilterRules, "\n")
	loader := filterrules.FSLoader{FS: fsys, Base: base}
	return filterrules.Compile(strings.NewReader(body), "<config filter_rules>", loader)
}
