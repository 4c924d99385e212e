package writer

import "github.com/CrazyForks/dwarfs/lib/dwarfsmeta"

// Fragment is a contiguous byte range of one entry's content tagged
// with a category, per spec.md Section 3's Fragment entity and
// Section 4.2 stage 2. EntryIndex indexes the Entry slice passed to
// the pipeline.
type Fragment struct {
	EntryIndex int
	Category   string
	Start      int64
	End        int64
}

func (f Fragment) Len() int64 { return f.End - f.Start }

// Categorizer splits a regular file's content into fragments and
// tags each with a category, per spec.md Section 1's "the audio/image
// categorizer plugins (treated as opaque classifiers returning
// category tags)" — this package only needs the capability surface,
// not any concrete classifier.
type Categorizer interface {
	// Categorize returns the fragment boundaries and category tags for
	// one entry's content. entryIndex identifies the entry in the
	// pipeline's Entry slice; data is its full content.
	Categorize(entryIndex int, data []byte) []Fragment
}

// DefaultCategory is the category assigned when no categorizer
// produced a more specific tag, per spec.md Section 4.2 stage 2's "the
// default" category.
const DefaultCategory = ""

// defaultCategorizer assigns every regular file's entire content to
// DefaultCategory as a single fragment, the baseline behavior when
// --categorize names no plugin.
type defaultCategorizer struct{}

func (defaultCategorizer) Categorize(entryIndex int, data []byte) []Fragment {
	return []Fragment{{EntryIndex: entryIndex, Category: DefaultCategory, Start: 0, End: int64(len(data))}}
}

// Categorize runs opts.Categorizer (or the default single-fragment
// categorizer) over every regular-file entry's content, producing the
// fragment stream for the dedup stage.
func Categorize(opts *Options, entries []Entry, contents [][]byte) []Fragment {
	cat := opts.Categorizer
	if cat == nil {
		cat = defaultCategorizer{}
	}
	var fragments []Fragment
	for i, e := range entries {
		if e.Kind != dwarfsmeta.KindRegular {
			continue
		}
		fragments = append(fragments, cat.Categorize(i, contents[i])...)
	}
	return fragments
}
