package dwarfscli

import (
	"fmt"

	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
)

// splitHeader locates section 0 within image (scanning for the magic
// when offset is dwarfsfmt.ImageOffsetAuto) and splits the opaque
// header prefix from the section body, per spec.md Section 6's
// --image-offset={auto|<bytes>}.
func splitHeader(image []byte, offset int) (start int, header, body []byte, err error) {
	start, err = dwarfsfmt.LocateImageStart(image, offset)
	if err != nil {
		return 0, nil, nil, dwarfserr.New(dwarfserr.KindCorrupt, fmt.Errorf("%w: %v", dwarfserr.ErrCorrupt, err))
	}
	return start, image[:start], image[start:], nil
}
