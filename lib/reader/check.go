package reader

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/CrazyForks/dwarfs/lib/dwarfsfmt"
)

// Check walks every block, verifying checksums at the requested level
// and, at CheckFull, additionally forcing a full decompression through
// the block cache, per spec.md Section 4.4's check(level, workers).
// A checksum failure or decode failure increments the returned error
// count and the walk continues rather than aborting (spec.md Section
// 7: "checksum failures at level full increment an error count and
// continue, returning non-zero at end"). The error return is reserved
// for ctx cancellation or a worker-pool setup failure, not for
// per-block verification failures. workers <= 0 means runtime.NumCPU.
func (r *FilesystemReader) Check(ctx context.Context, level dwarfsfmt.CheckLevel, workers int) (int, error) {
	if level == dwarfsfmt.CheckNone {
		return 0, nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var errCount int32
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for i, b := range r.blocks {
		i, b := i, b
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}

			headerBytes := dwarfsfmt.EncodeHeaderBytes(b.header)
			if err := dwarfsfmt.Verify(b.header, headerBytes, b.payload, level); err != nil {
				atomic.AddInt32(&errCount, 1)
				return nil
			}
			if level != dwarfsfmt.CheckFull {
				return nil
			}

			size, ok := r.metadata.BlockSizeFunc()(uint32(i))
			if !ok {
				atomic.AddInt32(&errCount, 1)
				return nil
			}
			future, err := r.cache.Get(uint32(i), 0, int(size))
			if err != nil {
				atomic.AddInt32(&errCount, 1)
				return nil
			}
			rng, err := future.Wait(egCtx)
			if err != nil {
				atomic.AddInt32(&errCount, 1)
				return nil
			}
			rng.Release()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return int(errCount), fmt.Errorf("check: %w", err)
	}
	return int(errCount), nil
}
