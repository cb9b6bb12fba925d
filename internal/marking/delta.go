package marking

import "github.com/deploymenttheory/go-bucketfs/internal/types"

// deviceUsageDelta computes the device-usage delta a bucket-mark
// transition produces (spec §4.4 "After the mark changes, update the
// device-usage shard with the old->new delta"): bucket counts per
// effective data type move by +/-one bucket, dirty and cached sector
// totals move independently, an allocator-owned delta is applied, a
// stripe-bit delta is applied, and a buckets_unavailable delta is
// applied.
func deviceUsageDelta(old, new types.BucketMark, bucketSize uint32) types.UsageDelta {
	var d types.UsageDelta

	oldType, newType := old.EffectiveDataType(), new.EffectiveDataType()
	if oldType != newType {
		if oldType != types.DataTypeNone {
			d.Buckets[oldType] -= int64(bucketSize)
		}
		if newType != types.DataTypeNone {
			d.Buckets[newType] += int64(bucketSize)
		}
	}

	// bch2_dev_usage_update (buckets.c): dirty sectors move between the
	// raw data types the bucket carried before and after; cached
	// sectors are tracked separately under DataTypeCached regardless of
	// the bucket's data type.
	if old.DirtySectors() != 0 {
		d.Sectors[old.DataType()] -= int64(old.DirtySectors())
	}
	if new.DirtySectors() != 0 {
		d.Sectors[new.DataType()] += int64(new.DirtySectors())
	}
	if cachedDelta := int64(new.CachedSectors()) - int64(old.CachedSectors()); cachedDelta != 0 {
		d.Sectors[types.DataTypeCached] += cachedDelta
	}

	if old.OwnedByAllocator() != new.OwnedByAllocator() {
		if new.OwnedByAllocator() {
			d.AllocatorOwned += int64(bucketSize)
		} else {
			d.AllocatorOwned -= int64(bucketSize)
		}
	}

	if old.Stripe() != new.Stripe() {
		if new.Stripe() {
			d.StripeBuckets += int64(bucketSize)
		} else {
			d.StripeBuckets -= int64(bucketSize)
		}
	}

	if old.Unavailable() != new.Unavailable() {
		if new.Unavailable() {
			d.BucketsUnavailable += int64(bucketSize)
		} else {
			d.BucketsUnavailable -= int64(bucketSize)
		}
	}

	return d
}
