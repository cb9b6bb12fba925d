package types

import "sync"

// StripeRecord is one entry of the sparse stripe map, keyed by stripe
// index (spec §3). It is referenced from pointer accounting to compute
// parity-sector attribution. Mutations go through the embedded mutex
// since two pointers referencing different blocks of the same stripe can
// race through mark_stripe_ptr concurrently even though each holds its
// own bucket's mark-lock read pin.
type StripeRecord struct {
	sync.Mutex

	Sectors     uint32
	Algorithm   uint8
	NrBlocks    uint8
	NrRedundant uint8
	Alive       bool

	BlockSectors   []uint32 // per-block sector counters, len == NrBlocks
	BlocksNonEmpty int
}

// NrDataBlocks returns the number of non-redundant blocks in the stripe.
func (s *StripeRecord) NrDataBlocks() int {
	return int(s.NrBlocks) - int(s.NrRedundant)
}
