// Command mkdwarfs builds a DwarFS image from a directory tree.
package main

import (
	"context"
	"os"

	"github.com/CrazyForks/dwarfs/internal/dwarfscli"
)

func main() {
	os.Exit(dwarfscli.Mkdwarfs(context.Background(), os.Args[1:], os.Stderr))
}
