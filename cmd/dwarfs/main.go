// Command dwarfs is the universal binary: copied, hardlinked, or
// symlinked as mkdwarfs/dwarfsck/dwarfsextract/dwarfs, it dispatches
// to the matching tool based on its own invoked name, or an explicit
// --tool=<name> argument, per spec.md Section 6.
package main

import (
	"context"
	"os"

	"github.com/CrazyForks/dwarfs/internal/dwarfscli"
)

func main() {
	os.Exit(dwarfscli.Universal(context.Background(), os.Args[0], os.Args[1:], os.Stdout, os.Stderr))
}
