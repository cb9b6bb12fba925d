package devicetable

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
	"github.com/deploymenttheory/go-bucketfs/internal/usage"
)

// Waker is the allocator wake-up callback (spec §6 "wake_allocator(dev)
// when a bucket becomes available"). The allocator's free-list/copygc
// threads are an external collaborator (spec §1); the core only wakes
// them.
type Waker interface {
	WakeAllocator(dev *Device)
}

// Device is one block device's bucket table plus the state a device
// handle exclusively owns (spec §3 "Ownership"): its table, its per-CPU
// device-usage shards (live and gc), and its free-list structures.
//
// The table itself is published behind an atomic.Pointer and swapped
// wholesale by Resize. Ordinary bucket access (the CAS loop in
// internal/bucketmark) only ever needs a consistent snapshot of the
// pointer, not the fs-wide mark-lock, to be safe against a concurrent
// swap; Resize additionally requires the fs-wide mark-lock in write
// mode (enforced by the caller, internal/bucketfs) so that no bucket-CAS
// reader can be "torn" between reading the old and new table — by the
// time a writer holds that lock exclusively, every reader that read the
// pointer under a read pin has already finished. That, plus Go's
// garbage collector, gives the "RCU-style deferred reclamation" spec §3
// asks for without hand-rolled epoch bookkeeping (spec §9 offers a
// read-write lock wrapping a boxed table as one valid target-language
// equivalent).
type Device struct {
	ID         uuid.UUID
	BucketSize uint32

	bucketLock sync.RWMutex
	table      atomic.Pointer[Table]

	UsageLive *usage.Counters
	UsageGC   *usage.Counters

	freeList FreeList

	Waker Waker
}

// New builds a device with nbuckets buckets, firstBucket of which are
// reserved headers.
func New(id uuid.UUID, bucketSize uint32, nbuckets, firstBucket uint64) (*Device, error) {
	t, err := Allocate(nbuckets, firstBucket)
	if err != nil {
		return nil, err
	}
	d := &Device{
		ID:         id,
		BucketSize: bucketSize,
		UsageLive:  usage.New(),
		UsageGC:    usage.New(),
	}
	d.table.Store(t)
	return d, nil
}

// Table returns the currently published bucket table. Safe to call
// without holding any lock; the returned pointer is a stable snapshot.
func (d *Device) Table() *Table {
	return d.table.Load()
}

// NrBuckets returns the device's current bucket count.
func (d *Device) NrBuckets() uint64 {
	return d.Table().NrBuckets()
}

// FreeList returns the device's free-bucket FIFO.
func (d *Device) FreeList() *FreeList {
	return &d.freeList
}

// Resize replaces the device's bucket table with one of nbuckets
// buckets, preserving the overlapping prefix bit-for-bit (spec §4.2
// resize()). The caller must hold the fs-wide mark-lock in write mode;
// Resize itself takes the device's exclusive bucket lock.
func (d *Device) Resize(nbuckets uint64) error {
	d.bucketLock.Lock()
	defer d.bucketLock.Unlock()

	old := d.table.Load()
	next, err := Allocate(nbuckets, old.FirstBucket)
	if err != nil {
		return err
	}

	prefix := old.NrBuckets()
	if nbuckets < prefix {
		prefix = nbuckets
	}
	for b := uint64(0); b < prefix; b++ {
		next.marks[b] = old.marks[b]
		next.inUse.Set(b, old.inUse.Get(b))
		next.written.Set(b, old.written.Get(b))
		next.oldestGen[b] = old.oldestGen[b]
	}

	d.table.Store(next)
	return nil
}

// RebuildUsage recomputes live device usage by walking every live
// bucket mark and replacing dst's contents with the result (spec §6
// dev_usage_from_buckets, §8 property 3). It is the authoritative
// source of truth at mount, when accumulated shard deltas cannot be
// trusted, and must be called with the fs-wide mark-lock held in write
// mode so no concurrent mark_key call can observe dst half-reset.
func (d *Device) RebuildUsage(dst *usage.Counters, h percpu.Handle) {
	var total types.UsageDelta
	d.Table().IterateLive(func(b uint64, m types.BucketMark) {
		total.Buckets[m.EffectiveDataType()] += int64(d.BucketSize)
		total.Sectors[m.DataType()] += int64(m.DirtySectors())
		total.Sectors[types.DataTypeCached] += int64(m.CachedSectors())
		if m.OwnedByAllocator() {
			total.AllocatorOwned += int64(d.BucketSize)
		}
		if m.Unavailable() {
			total.BucketsUnavailable += int64(d.BucketSize)
		}
		if m.Stripe() {
			total.StripeBuckets += int64(d.BucketSize)
		}
	})
	dst.Reset()
	dst.Add(h, total)
}
