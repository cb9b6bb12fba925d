package marking

import (
	"fmt"

	"github.com/deploymenttheory/go-bucketfs/internal/bucketmark"
	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

// markPointer resolves ptr to a (device, bucket), CAS-loops the mark,
// and folds the resulting device-usage delta (spec §4.4 "Per-pointer
// accounting (mark_pointer)"). sectors is signed and already scaled for
// compression by the caller.
func (e *Engine) markPointer(h percpu.Handle, ptr types.Pointer, sectors int64, dataType types.DataType, pos types.Pos, journalSeq uint64, gc bool) error {
	dev, ok := e.Device(ptr.Dev)
	if !ok {
		return fmt.Errorf("bucketfs: unknown device index %d", ptr.Dev)
	}
	if ptr.Bucket >= dev.NrBuckets() {
		return fmt.Errorf("bucketfs: bucket %d out of range for device %d", ptr.Bucket, ptr.Dev)
	}

	word := dev.Table().Mark(ptr.Bucket)

	var (
		staleGen bool
		addErr   error
	)
	old, new := word.Mutate(func(cur types.BucketMark) types.BucketMark {
		staleGen = false
		addErr = nil

		// Checked against the freshly-loaded mark, inside the CAS
		// loop, to guard against the allocator invalidating the
		// bucket concurrently with our own retry (spec §4.4 step 1).
		if types.GenAfter(cur.Gen(), ptr.Gen) {
			staleGen = true
			return cur
		}

		next := cur
		if !ptr.Cached {
			v, err := bucketmark.CheckedAddSectors(cur.DirtySectors(), sectors)
			if err != nil {
				addErr = err
				return cur
			}
			next = next.WithDirtySectors(v)
		} else {
			v, err := bucketmark.CheckedAddSectors(cur.CachedSectors(), sectors)
			if err != nil {
				addErr = err
				return cur
			}
			next = next.WithCachedSectors(v)
		}

		if next.DirtySectors() == 0 && next.CachedSectors() == 0 {
			next = next.WithDataType(types.DataTypeNone)
			if journalSeq != 0 {
				next = next.WithJournalSeqValid(true).WithJournalSeq(journalSeq)
			}
		} else {
			next = next.WithDataType(dataType)
		}
		return next
	})

	if staleGen {
		if !e.allocReadDone.Load() {
			return fmt.Errorf("%w: pointer gen %d predates bucket gen %d before alloc read finished", types.ErrInconsistency, ptr.Gen, old.Gen())
		}
		return nil
	}
	if addErr != nil {
		return addErr
	}
	if old == new {
		return nil
	}

	if !gc && old.Available() && new.Unavailable() {
		return fmt.Errorf("%w: live mark transitioned available to unavailable outside gc (bucket %d)", types.ErrInconsistency, ptr.Bucket)
	}

	delta := deviceUsageDelta(old, new, dev.BucketSize)
	e.foldDeviceDelta(dev, h, delta, pos, gc)

	if old.Unavailable() && new.Available() && dev.Waker != nil {
		dev.Waker.WakeAllocator(dev)
	}

	return nil
}
