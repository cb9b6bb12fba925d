// Package usage implements the per-CPU sharded UsageCounters described
// in spec §4.3: writers fold deltas into their own shard under a
// mark-lock read pin, readers sum every shard. Two independent instances
// exist per fs/device — live and gc (spec §4.3 "Live vs GC shards") —
// this package makes no distinction between them; callers hold two
// *Counters and pick the right one via gcpos.Visited.
package usage

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

type replicaShard struct {
	data               [types.NumDataTypes]atomic.Int64
	persistentReserved atomic.Int64
	ecData             atomic.Int64
}

// shard holds one CPU's contribution to a Counters. Each field is its
// own atomic so Read can sum concurrently with Add writing a different
// (or, briefly, the same) field without racing, matching the
// "eventually consistent, no cross-shard atomicity" contract of spec
// §5 without triggering Go's race detector.
type shard struct {
	hidden         atomic.Int64
	data           atomic.Int64
	cached         atomic.Int64
	reserved       atomic.Int64
	onlineReserved atomic.Int64
	nrInodes       atomic.Int64

	buckets [types.NumDataTypes]atomic.Int64
	sectors [types.NumDataTypes]atomic.Int64

	replicas [types.MaxReplicas]replicaShard

	bucketsUnavailable atomic.Int64
	allocatorOwned     atomic.Int64
	stripeBuckets      atomic.Int64

	// pad separates consecutive shards onto distinct cache lines,
	// grounded on zeebo-gofaster/internal/machine's Pad56/CacheLine
	// sizing for the same reason: avoid false sharing between shards
	// updated by different goroutines.
	_ [64]byte
}

// Counters is a per-CPU sharded usage-counter block (spec §3
// UsageCounters, §4.3).
type Counters struct {
	shards [percpu.MaxShards]shard
}

// New returns a zeroed Counters.
func New() *Counters { return &Counters{} }

// Add folds delta into h's shard. The caller must hold the fs-wide
// mark-lock in read mode (spec §4.3 add(shard, delta)).
func (c *Counters) Add(h percpu.Handle, delta types.UsageDelta) {
	s := &c.shards[h.Shard()]
	s.hidden.Add(delta.Hidden)
	s.data.Add(delta.Data)
	s.cached.Add(delta.Cached)
	s.reserved.Add(delta.Reserved)
	s.onlineReserved.Add(delta.OnlineReserved)
	s.nrInodes.Add(delta.NrInodes)
	for i := range delta.Buckets {
		if delta.Buckets[i] != 0 {
			s.buckets[i].Add(delta.Buckets[i])
		}
	}
	for i := range delta.Sectors {
		if delta.Sectors[i] != 0 {
			s.sectors[i].Add(delta.Sectors[i])
		}
	}
	for r := range delta.Replicas {
		rd := &delta.Replicas[r]
		rs := &s.replicas[r]
		for i := range rd.Data {
			if rd.Data[i] != 0 {
				rs.data[i].Add(rd.Data[i])
			}
		}
		if rd.PersistentReserved != 0 {
			rs.persistentReserved.Add(rd.PersistentReserved)
		}
		if rd.ECData != 0 {
			rs.ecData.Add(rd.ECData)
		}
	}
	s.bucketsUnavailable.Add(delta.BucketsUnavailable)
	s.allocatorOwned.Add(delta.AllocatorOwned)
	s.stripeBuckets.Add(delta.StripeBuckets)
}

// Reset zeroes every shard. Callers must exclude concurrent Add/Read
// while resetting (spec's dev_usage_from_buckets rebuild runs under the
// fs-wide mark-lock in write mode, which guarantees this).
func (c *Counters) Reset() {
	for i := range c.shards {
		s := &c.shards[i]
		s.hidden.Store(0)
		s.data.Store(0)
		s.cached.Store(0)
		s.reserved.Store(0)
		s.onlineReserved.Store(0)
		s.nrInodes.Store(0)
		for j := range s.buckets {
			s.buckets[j].Store(0)
		}
		for j := range s.sectors {
			s.sectors[j].Store(0)
		}
		for r := range s.replicas {
			rs := &s.replicas[r]
			for j := range rs.data {
				rs.data[j].Store(0)
			}
			rs.persistentReserved.Store(0)
			rs.ecData.Store(0)
		}
		s.bucketsUnavailable.Store(0)
		s.allocatorOwned.Store(0)
		s.stripeBuckets.Store(0)
	}
}

// AddOnlineReserved is a narrow helper for the reservation subsystem,
// which touches only online_reserved outside of a full UsageDelta fold
// (bch2_disk_reservation_add/put touch this field alone).
func (c *Counters) AddOnlineReserved(h percpu.Handle, delta int64) {
	c.shards[h.Shard()].onlineReserved.Add(delta)
}

// Read sums every shard into a point-in-time snapshot (spec §4.3
// read()). Not linearizable with concurrent Add calls.
func (c *Counters) Read() types.UsageSnapshot {
	var out types.UsageSnapshot
	for i := range c.shards {
		s := &c.shards[i]
		out.Hidden += s.hidden.Load()
		out.Data += s.data.Load()
		out.Cached += s.cached.Load()
		out.Reserved += s.reserved.Load()
		out.OnlineReserved += s.onlineReserved.Load()
		out.NrInodes += s.nrInodes.Load()
		for j := range s.buckets {
			out.Buckets[j] += s.buckets[j].Load()
		}
		for j := range s.sectors {
			out.Sectors[j] += s.sectors[j].Load()
		}
		for r := range s.replicas {
			rs := &s.replicas[r]
			for j := range rs.data {
				out.Replicas[r].Data[j] += rs.data[j].Load()
			}
			out.Replicas[r].PersistentReserved += rs.persistentReserved.Load()
			out.Replicas[r].ECData += rs.ecData.Load()
		}
		out.BucketsUnavailable += s.bucketsUnavailable.Load()
		out.AllocatorOwned += s.allocatorOwned.Load()
		out.StripeBuckets += s.stripeBuckets.Load()
	}
	return out
}

// ReadShort derives the public {capacity, used, nr_inodes} view (spec
// §4.3 read_short()): used = min(capacity, data + reserve_factor(reserved
// + online_reserved)), capacity = deviceCapacity - hidden.
func (c *Counters) ReadShort(deviceCapacity uint64) types.ShortUsage {
	snap := c.Read()
	var capacity uint64
	if uint64(snap.Hidden) < deviceCapacity {
		capacity = deviceCapacity - uint64(snap.Hidden)
	}
	used := uint64(snap.Data) + ReserveFactor(uint64(snap.Reserved+snap.OnlineReserved))
	if used > capacity {
		used = capacity
	}
	return types.ShortUsage{
		Capacity: capacity,
		Used:     used,
		NrInodes: snap.NrInodes,
	}
}

// DeviceShortUsage derives a {capacity, used} view for a per-device
// Counters, whose sectors are tracked per data type (Sectors[]) rather
// than through the aggregate Data field read_short() uses at the
// filesystem level. used sums every data type except DataTypeCached, the
// same "cached data doesn't count as used" exclusion read_short() makes
// via its own separate Cached field.
func (c *Counters) DeviceShortUsage(deviceCapacity uint64) types.ShortUsage {
	snap := c.Read()
	var capacity uint64
	if uint64(snap.Hidden) < deviceCapacity {
		capacity = deviceCapacity - uint64(snap.Hidden)
	}
	var used uint64
	for i, sectors := range snap.Sectors {
		if types.DataType(i) == types.DataTypeCached {
			continue
		}
		if sectors > 0 {
			used += uint64(sectors)
		}
	}
	if used > capacity {
		used = capacity
	}
	return types.ShortUsage{
		Capacity: capacity,
		Used:     used,
		NrInodes: snap.NrInodes,
	}
}

// VerifyInvariants checks the debug-build consistency properties from
// spec §7/§8 (properties 1 and the non-negativity half of property 4):
// online_reserved, reserved, every per-data-type bucket count and every
// replica's data and persistent_reserved counters are non-negative
// (per-data-type sector counts are not checked). It is called only from
// tests.
func (c *Counters) VerifyInvariants() error {
	snap := c.Read()
	if snap.OnlineReserved < 0 {
		return fmt.Errorf("%w: online_reserved underflow: %d", types.ErrInconsistency, snap.OnlineReserved)
	}
	if snap.Reserved < 0 {
		return fmt.Errorf("%w: reserved underflow: %d", types.ErrInconsistency, snap.Reserved)
	}
	for i, v := range snap.Buckets {
		if v < 0 {
			return fmt.Errorf("%w: buckets[%d] underflow: %d", types.ErrInconsistency, i, v)
		}
	}
	for r := range snap.Replicas {
		for i, v := range snap.Replicas[r].Data {
			if v < 0 {
				return fmt.Errorf("%w: replicas[%d].data[%d] underflow: %d", types.ErrInconsistency, r, i, v)
			}
		}
		if snap.Replicas[r].PersistentReserved < 0 {
			return fmt.Errorf("%w: replicas[%d].persistent_reserved underflow: %d", types.ErrInconsistency, r, snap.Replicas[r].PersistentReserved)
		}
	}
	return nil
}
