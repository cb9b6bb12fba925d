package marking

import (
	"fmt"

	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

// markStripePtr folds sectors into the referenced block of the stripe at
// sp.Idx and returns the parity-sector contribution to add to the
// caller's adjusted disk-sectors total (spec §4.4 mark_stripe_ptr):
//
//	parity_sectors = ceil(|sectors| * nr_redundant / nr_data_blocks)
//
// signed to match sectors, so retiring an extent releases exactly the
// parity it once held.
func (e *Engine) markStripePtr(h percpu.Handle, sp types.StripePtr, sectors int64, gc bool) (int64, error) {
	m := e.StripesLive
	if gc {
		m = e.StripesGC
	}
	rec, ok := m.Get(sp.Idx)
	if !ok || !rec.Alive {
		return 0, fmt.Errorf("%w: stripe %d", types.ErrMissingStripe, sp.Idx)
	}

	rec.Lock()
	defer rec.Unlock()

	if int(sp.Block) >= len(rec.BlockSectors) {
		return 0, fmt.Errorf("%w: stripe %d block %d out of range", types.ErrMissingStripe, sp.Idx, sp.Block)
	}

	before := rec.BlockSectors[sp.Block]
	next := int64(before) + sectors
	if next < 0 {
		next = 0
	}
	if before == 0 && next > 0 {
		rec.BlocksNonEmpty++
	} else if before > 0 && next == 0 {
		rec.BlocksNonEmpty--
	}
	rec.BlockSectors[sp.Block] = uint32(next)

	nrData := rec.NrDataBlocks()
	if nrData <= 0 {
		return 0, fmt.Errorf("%w: stripe %d has no data blocks", types.ErrInconsistency, sp.Idx)
	}

	abs := sectors
	if abs < 0 {
		abs = -abs
	}
	parity := ceilDiv(abs*int64(rec.NrRedundant), int64(nrData))
	if sectors < 0 {
		parity = -parity
	}

	// A live (non-gc) update would also push the stripe onto the
	// partial-stripe heap here so the allocator can prefer completing it;
	// this implementation has no copygc/allocator heap consumer yet.

	return parity, nil
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
