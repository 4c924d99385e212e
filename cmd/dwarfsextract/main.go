// Command dwarfsextract materializes a DwarFS image's tree to a real
// directory or streams it out in an archive format.
package main

import (
	"context"
	"os"

	"github.com/CrazyForks/dwarfs/internal/dwarfscli"
)

func main() {
	os.Exit(dwarfscli.Dwarfsextract(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
