package marking

import (
	"fmt"

	"github.com/deploymenttheory/go-bucketfs/internal/bucketmark"
	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

// InvalidateBucket performs the allocator's atomic invalidate transition
// (spec §4.4 "Invalidate bucket"): the bucket must currently be
// available (free or cached); it becomes allocator-owned with a cleared
// data type, zeroed sector counts, and an incremented generation. The old
// mark is returned so the caller can charge any cached_sectors it held
// back out of the running totals.
func (e *Engine) InvalidateBucket(h percpu.Handle, devIdx uint32, bucket uint64, pos types.Pos) (types.BucketMark, error) {
	dev, ok := e.Device(devIdx)
	if !ok {
		return 0, fmt.Errorf("bucketfs: unknown device index %d", devIdx)
	}
	if bucket >= dev.NrBuckets() {
		return 0, fmt.Errorf("bucketfs: bucket %d out of range for device %d", bucket, devIdx)
	}

	word := dev.Table().Mark(bucket)
	var notAvailable bool
	old, new := word.Mutate(func(cur types.BucketMark) types.BucketMark {
		if !cur.Available() {
			notAvailable = true
			return cur
		}
		notAvailable = false
		next := cur.WithOwnedByAllocator(true).
			WithDataType(types.DataTypeNone).
			WithDirtySectors(0).
			WithCachedSectors(0).
			WithGen(cur.Gen() + 1)
		return next
	})
	if notAvailable {
		return 0, fmt.Errorf("%w: bucket %d not available for invalidation", types.ErrInconsistency, bucket)
	}

	delta := deviceUsageDelta(old, new, dev.BucketSize)
	e.foldDeviceDelta(dev, h, delta, pos, false)
	return old, nil
}

// MarkAllocBucket flips owned_by_allocator (spec §4.4 "Mark allocator").
// Outside GC it is a bug to set the flag on a bucket that isn't already
// transitioning to or from allocator ownership; the caller passes owned
// as the state it is asserting, and this rejects a no-op assertion that
// contradicts the bucket's current state unless gc is set.
func (e *Engine) MarkAllocBucket(h percpu.Handle, devIdx uint32, bucket uint64, owned bool, pos types.Pos, gc bool) error {
	dev, ok := e.Device(devIdx)
	if !ok {
		return fmt.Errorf("bucketfs: unknown device index %d", devIdx)
	}
	if bucket >= dev.NrBuckets() {
		return fmt.Errorf("bucketfs: bucket %d out of range for device %d", bucket, devIdx)
	}

	word := dev.Table().Mark(bucket)
	var noop bool
	old, new := word.Mutate(func(cur types.BucketMark) types.BucketMark {
		if cur.OwnedByAllocator() == owned {
			noop = true
			return cur
		}
		noop = false
		return cur.WithOwnedByAllocator(owned)
	})
	if noop && !gc {
		return fmt.Errorf("%w: bucket %d already has owned_by_allocator=%v outside gc", types.ErrInconsistency, bucket, owned)
	}
	if old == new {
		return nil
	}

	delta := deviceUsageDelta(old, new, dev.BucketSize)
	e.foldDeviceDelta(dev, h, delta, pos, gc)
	return nil
}

// MarkMetadataBucket sets data_type and adds sectors to dirty_sectors for
// a superblock or journal bucket (spec §4.4 "Mark metadata bucket").
func (e *Engine) MarkMetadataBucket(h percpu.Handle, devIdx uint32, bucket uint64, dataType types.DataType, sectors int64, pos types.Pos, gc bool) error {
	dev, ok := e.Device(devIdx)
	if !ok {
		return fmt.Errorf("bucketfs: unknown device index %d", devIdx)
	}
	if bucket >= dev.NrBuckets() {
		return fmt.Errorf("bucketfs: bucket %d out of range for device %d", bucket, devIdx)
	}

	word := dev.Table().Mark(bucket)
	var addErr error
	old, new := word.Mutate(func(cur types.BucketMark) types.BucketMark {
		addErr = nil
		v, err := bucketmark.CheckedAddSectors(cur.DirtySectors(), sectors)
		if err != nil {
			addErr = err
			return cur
		}
		return cur.WithDirtySectors(v).WithDataType(dataType)
	})
	if addErr != nil {
		return addErr
	}
	if old == new {
		return nil
	}

	delta := deviceUsageDelta(old, new, dev.BucketSize)
	e.foldDeviceDelta(dev, h, delta, pos, gc)
	return nil
}
