package types

// NumDataTypes is the width of any array indexed by DataType.
const NumDataTypes = int(DataTypeCached) + 1

// MaxReplicas bounds the replication level arrays (spec §3:
// "replicas[r-1]... keyed by replication level"). Extent aggregation
// clamps its replica count into [1, MaxReplicas].
const MaxReplicas = 4

// ReplicaUsage is one replication-level's slice of fs_usage.replicas[r-1]
// (spec §3).
type ReplicaUsage struct {
	Data               [NumDataTypes]int64
	PersistentReserved int64
	ECData             int64
}

// Add folds o's fields into r.
func (r *ReplicaUsage) Add(o ReplicaUsage) {
	for i := range r.Data {
		r.Data[i] += o.Data[i]
	}
	r.PersistentReserved += o.PersistentReserved
	r.ECData += o.ECData
}

// UsageDelta is the transient, per-transaction accounting structure the
// key marking engine accumulates into before folding it into a live (and
// possibly gc) counter shard at commit (spec §2, §4.3).
type UsageDelta struct {
	Hidden         int64
	Data           int64
	Cached         int64
	Reserved       int64
	OnlineReserved int64
	NrInodes       int64

	Buckets [NumDataTypes]int64
	Sectors [NumDataTypes]int64

	Replicas [MaxReplicas]ReplicaUsage

	// BucketsUnavailable and AllocatorOwned mirror the device-usage
	// deltas produced by mark_pointer / mark_alloc_bucket (spec §4.4).
	BucketsUnavailable int64
	AllocatorOwned     int64
	StripeBuckets      int64
}

// Add folds o into d, field by field.
func (d *UsageDelta) Add(o UsageDelta) {
	d.Hidden += o.Hidden
	d.Data += o.Data
	d.Cached += o.Cached
	d.Reserved += o.Reserved
	d.OnlineReserved += o.OnlineReserved
	d.NrInodes += o.NrInodes
	for i := range d.Buckets {
		d.Buckets[i] += o.Buckets[i]
	}
	for i := range d.Sectors {
		d.Sectors[i] += o.Sectors[i]
	}
	for i := range d.Replicas {
		d.Replicas[i].Add(o.Replicas[i])
	}
	d.BucketsUnavailable += o.BucketsUnavailable
	d.AllocatorOwned += o.AllocatorOwned
	d.StripeBuckets += o.StripeBuckets
}

// Zero resets every field to zero, matching bch2_fs_usage_apply's
// "zero the delta" step after a successful commit.
func (d *UsageDelta) Zero() { *d = UsageDelta{} }

// UsageSnapshot is a point-in-time sum across a UsageCounters' per-CPU
// shards (spec §4.3 read()). It is not linearizable with concurrent
// updates.
type UsageSnapshot struct {
	Hidden         int64
	Data           int64
	Cached         int64
	Reserved       int64
	OnlineReserved int64
	NrInodes       int64

	Buckets [NumDataTypes]int64
	Sectors [NumDataTypes]int64

	Replicas [MaxReplicas]ReplicaUsage

	BucketsUnavailable int64
	AllocatorOwned     int64
	StripeBuckets      int64
}

// ShortUsage is the public {capacity, used, nr_inodes} projection
// produced by read_short() (spec §4.3).
type ShortUsage struct {
	Capacity uint64
	Used     uint64
	NrInodes int64
}
