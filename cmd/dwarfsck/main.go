// Command dwarfsck verifies and inspects a DwarFS image.
package main

import (
	"context"
	"os"

	"github.com/CrazyForks/dwarfs/internal/dwarfscli"
)

func main() {
	os.Exit(dwarfscli.Dwarfsck(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
