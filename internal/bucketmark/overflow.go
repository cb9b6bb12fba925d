package bucketmark

import (
	"fmt"

	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

// SectorFieldMax is the largest value the 15-bit dirty/cached sector
// fields can hold.
const SectorFieldMax = 1<<15 - 1

// CheckedAddSectors adds delta (which may be negative) to current and
// returns the result, or ErrOverflow if the result would not fit in the
// packed 15-bit field, or ErrInconsistency if it would go negative.
// Grounded on buckets.c's checked_add macro, which traps via BUG_ON; Go
// has no equivalent trap for a library, so this returns an error the
// caller propagates as a fatal condition instead.
func CheckedAddSectors(current uint32, delta int64) (uint32, error) {
	next := int64(current) + delta
	if next < 0 {
		return 0, fmt.Errorf("%w: sector count would go negative (current=%d delta=%d)", types.ErrInconsistency, current, delta)
	}
	if next > SectorFieldMax {
		return 0, fmt.Errorf("%w: sector count %d exceeds field width", types.ErrOverflow, next)
	}
	return uint32(next), nil
}
