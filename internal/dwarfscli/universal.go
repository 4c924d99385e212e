package dwarfscli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// tools maps a tool name to its entry point, per spec.md Section 6's
// "Universal binary: if the executable stem matches a tool name,
// dispatch to that tool; else honor --tool=<name>; else print
// available tools" and original_source/tools/src/universal.cpp's
// function table.
var tools = map[string]func(ctx context.Context, args []string, stdout, stderr io.Writer) int{
	"dwarfs": func(ctx context.Context, args []string, stdout, stderr io.Writer) int {
		return Dwarfs(ctx, args, stderr)
	},
	"mkdwarfs": func(ctx context.Context, args []string, stdout, stderr io.Writer) int {
		return Mkdwarfs(ctx, args, stderr)
	},
	"dwarfsck":      Dwarfsck,
	"dwarfsextract": Dwarfsextract,
}

// toolNames lists the dispatch table's keys in a fixed order, for the
// usage fallback's tool listing.
var toolNames = []string{"dwarfs", "mkdwarfs", "dwarfsck", "dwarfsextract"}

// Universal implements the universal binary's dispatch algorithm from
// original_source/tools/src/universal.cpp's SYS_MAIN: first try the
// executable's own stem (argv[0], minus any "-<version>" suffix),
// then a leading "--tool=<name>" argument, then fall back to a usage
// listing.
func Universal(ctx context.Context, argv0 string, args []string, stdout, stderr io.Writer) int {
	stem := filepath.Base(argv0)
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))

	if fn, ok := tools[stem]; ok {
		return fn(ctx, args, stdout, stderr)
	}
	if pos := strings.IndexByte(stem, '-'); pos >= 0 && pos+1 < len(stem) && isDigit(stem[pos+1]) {
		if fn, ok := tools[stem[:pos]]; ok {
			fmt.Fprintf(stderr, "running %s as %s\n", filepath.Base(argv0), stem[:pos])
			return fn(ctx, args, stdout, stderr)
		}
	}

	if len(args) > 0 {
		if name, ok := cutToolFlag(args[0]); ok {
			if fn, ok := tools[name]; ok {
				return fn(ctx, args[1:], stdout, stderr)
			}
		}
	}

	fmt.Fprintf(stdout, "dwarfs-universal\n\nCommand line options:\n  --tool=<name>   which tool to run; available tools are:\n                  %s\n\n",
		strings.Join(toolNames, ", "))
	return 0
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func cutToolFlag(arg string) (string, bool) {
	const prefix = "--tool="
	if !strings.HasPrefix(arg, prefix) {
		return "", false
	}
	return arg[len(prefix):], true
}
