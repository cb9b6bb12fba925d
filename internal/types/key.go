package types

// KeyKind selects which mark_key dispatch rule applies (spec §4.4).
type KeyKind uint8

const (
	KeyKindBtreePointer KeyKind = iota
	KeyKindExtent
	KeyKindStripe
	KeyKindInodeAlloc
	KeyKindReservation
)

func (k KeyKind) String() string {
	switch k {
	case KeyKindBtreePointer:
		return "btree-pointer"
	case KeyKindExtent:
		return "extent"
	case KeyKindStripe:
		return "stripe"
	case KeyKindInodeAlloc:
		return "inode-alloc"
	case KeyKindReservation:
		return "reservation-placeholder"
	default:
		return "unknown"
	}
}

// Compression describes a pointer's on-disk vs. logical sector counts,
// used to scale the sectors charged to a bucket when the extent is
// compressed (spec §4.4 "per-pointer compression/crc scaling").
type Compression struct {
	CompressedSectors   uint32
	UncompressedSectors uint32
}

// DiskSectors scales a logical sector count to the on-disk sector count
// this pointer actually consumes, rounding up. A zero or identity
// Compression is a no-op scale.
func (c Compression) DiskSectors(logical int64) int64 {
	if c.UncompressedSectors == 0 || c.CompressedSectors == c.UncompressedSectors {
		return logical
	}
	neg := logical < 0
	if neg {
		logical = -logical
	}
	scaled := (logical*int64(c.CompressedSectors) + int64(c.UncompressedSectors) - 1) / int64(c.UncompressedSectors)
	if neg {
		return -scaled
	}
	return scaled
}

// StripePtr marks a pointer as referencing one block of an erasure-coded
// stripe (spec §4.4 mark_stripe_ptr).
type StripePtr struct {
	Idx         uint64
	Block       uint8
	NrRedundant uint8
}

// Pointer is a single on-disk location an extent, btree node, or stripe
// key resolves to.
type Pointer struct {
	Dev    uint32
	Bucket uint64
	Gen    uint8
	Cached bool

	Compression Compression
	Stripe      *StripePtr
}

// Extent is the caller-decoded form of an extent key: a logical [Start,
// End) sector range replicated across Pointers.
type Extent struct {
	Start    uint64
	End      uint64
	Pointers []Pointer
}

// Size returns the extent's logical sector length.
func (e Extent) Size() int64 { return int64(e.End - e.Start) }

// BtreePointerKey is a btree node's set of underlying pointers.
type BtreePointerKey struct {
	Pointers []Pointer
}

// StripeKey creates or retires a stripe record.
type StripeKey struct {
	Idx    uint64
	Record StripeRecord
	// Pointers references the buckets backing each block of the
	// stripe, in block order, for the stripe-bit mark.
	Pointers []Pointer
}

// InodeAllocKey adjusts the inode count.
type InodeAllocKey struct{}

// ReservationKey is a reservation-placeholder key.
type ReservationKey struct {
	NrReplicas uint32
}

// Key is the tagged union mark_key dispatches on (spec §4.4). Exactly one
// of the pointer fields matching Kind is populated.
type Key struct {
	Kind KeyKind

	BtreePointer *BtreePointerKey
	Extent       *Extent
	Stripe       *StripeKey
	InodeAlloc   *InodeAllocKey
	Reservation  *ReservationKey
}
