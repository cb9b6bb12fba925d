// Package bucketfs wires the accounting core's pieces (device table,
// usage counters, marking engine, reservation pool) behind the
// filesystem-wide lock stack spec §5 describes, and exposes the §6
// external interfaces to callers that would otherwise need to know how
// mark-lock, gc-lock, and per-CPU handles fit together.
package bucketfs

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-bucketfs/internal/devicetable"
	"github.com/deploymenttheory/go-bucketfs/internal/gcpos"
	"github.com/deploymenttheory/go-bucketfs/internal/marking"
	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/reservation"
	"github.com/deploymenttheory/go-bucketfs/internal/sweep"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

// Filesystem is the top-level accounting state for one filesystem
// instance: its device set, its fs-wide usage counters and stripe map
// (both owned by the embedded marking.Engine), its disk-reservation
// pool, and the mark-lock/gc-lock pair every operation synchronizes
// through (spec §5).
type Filesystem struct {
	// markLock is the fs-wide reader/writer lock spec §5 describes:
	// read mode for every ordinary marking call and usage read, write
	// mode for pool recalculation, bucket-table resize, and stripe
	// rebuilds.
	markLock sync.RWMutex
	// gcLock is the fs-wide gc-lock of the lock stack. No Filesystem
	// method acquires it: table resizes and reservation recalculation are
	// serialized by markLock alone.
	gcLock sync.RWMutex

	engine *marking.Engine
	pool   *reservation.Pool

	byID map[uuid.UUID]*devicetable.Device

	// Debug is an opt-in flag for invariant verification. No Filesystem
	// method reads it; usage.Counters.VerifyInvariants and
	// reservation.Pool.VerifyInvariant are called only from tests, and
	// they return an error rather than panicking.
	Debug bool
}

// New returns an empty Filesystem. reserveFactorShift parameterizes the
// reservation pool's avail_factor/reserve_factor markup (spec §4.3),
// typically usage.DefaultReserveFactorShift.
func New(reserveFactorShift uint) *Filesystem {
	fs := &Filesystem{
		engine: marking.NewEngine(),
		byID:   make(map[uuid.UUID]*devicetable.Device),
	}
	fs.pool = reservation.New(&fs.markLock, fs.engine.FSUsageLive, reserveFactorShift)
	return fs
}

// Engine exposes the underlying marking engine for callers that need
// direct access to fs-usage snapshots or the stripe map (e.g. the CLI's
// `usage` and `bucket show` subcommands).
func (fs *Filesystem) Engine() *marking.Engine { return fs.engine }

// GC exposes the shared GC cursor gc_visited(pos) is evaluated against.
func (fs *Filesystem) GC() *gcpos.Cursor { return fs.engine.GC }

// DevBucketsAlloc allocates a new device with nbuckets buckets (firstBucket
// of which are reserved headers), registers it with the marking engine,
// and returns it (spec §6 "to the allocator" surface, spec §4.2 alloc()).
func (fs *Filesystem) DevBucketsAlloc(bucketSize uint32, nbuckets, firstBucket uint64, waker devicetable.Waker) (*devicetable.Device, error) {
	dev, err := devicetable.New(uuid.New(), bucketSize, nbuckets, firstBucket)
	if err != nil {
		return nil, err
	}
	dev.Waker = waker

	fs.markLock.Lock()
	defer fs.markLock.Unlock()

	fs.engine.RegisterDevice(dev)
	fs.byID[dev.ID] = dev
	return dev, nil
}

// DevBucketsResize replaces a device's bucket table with one of nbuckets
// buckets under the mark-lock in write mode (spec §4.2 resize()).
func (fs *Filesystem) DevBucketsResize(id uuid.UUID, nbuckets uint64) error {
	fs.markLock.Lock()
	defer fs.markLock.Unlock()

	dev, ok := fs.byID[id]
	if !ok {
		return fmt.Errorf("bucketfs: unknown device %s", id)
	}
	return dev.Resize(nbuckets)
}

// DevBucketsFree zeroes the mark of every bucket on a device that has a
// data type, resets the device's live and gc usage counters, then drops
// it from the registry. There is no on-disk
// teardown here (spec.md §1 excludes on-disk format entirely); this
// only resets the in-memory accounting state a caller would otherwise
// have to unwind bucket by bucket.
func (fs *Filesystem) DevBucketsFree(id uuid.UUID) error {
	fs.markLock.Lock()
	defer fs.markLock.Unlock()

	dev, ok := fs.byID[id]
	if !ok {
		return fmt.Errorf("bucketfs: unknown device %s", id)
	}
	dev.Table().IterateLive(func(b uint64, m types.BucketMark) {
		dev.Table().Mark(b).Mutate(func(cur types.BucketMark) types.BucketMark {
			return 0
		})
	})
	dev.UsageLive.Reset()
	dev.UsageGC.Reset()
	delete(fs.byID, id)
	return nil
}

// Device looks up a registered device by ID.
func (fs *Filesystem) Device(id uuid.UUID) (*devicetable.Device, bool) {
	fs.markLock.RLock()
	defer fs.markLock.RUnlock()
	d, ok := fs.byID[id]
	return d, ok
}

// Devices returns a snapshot of every registered device.
func (fs *Filesystem) Devices() []*devicetable.Device {
	fs.markLock.RLock()
	defer fs.markLock.RUnlock()
	out := make([]*devicetable.Device, 0, len(fs.byID))
	for _, d := range fs.byID {
		out = append(out, d)
	}
	return out
}

// MarkKeyLocked marks key under a mark-lock read pin (spec §6
// mark_key_locked). h is a percpu.Handle the caller acquired for the
// duration of its transaction.
func (fs *Filesystem) MarkKeyLocked(h percpu.Handle, key types.Key, inserting bool, sectors int64, pos types.Pos, delta *types.UsageDelta, journalSeq uint64, gc bool) error {
	fs.markLock.RLock()
	defer fs.markLock.RUnlock()
	return fs.engine.MarkKey(h, key, inserting, sectors, pos, delta, journalSeq, gc)
}

// MarkUpdate walks a btree node's overlapping keys under a mark-lock
// read pin, accumulating unmarks into delta (spec §6 mark_update).
func (fs *Filesystem) MarkUpdate(h percpu.Handle, newStart, newEnd uint64, newPos types.Pos, existing []marking.ExistingExtent, delta *types.UsageDelta, journalSeq uint64, gc bool) error {
	fs.markLock.RLock()
	defer fs.markLock.RUnlock()
	return fs.engine.MarkUpdate(h, newStart, newEnd, newPos, existing, delta, journalSeq, gc)
}

// Apply reconciles a completed transaction's delta against its
// reservation at commit (spec §6 apply()).
func (fs *Filesystem) Apply(h percpu.Handle, delta *types.UsageDelta, res *types.DiskReservation, pos types.Pos) {
	fs.markLock.RLock()
	defer fs.markLock.RUnlock()
	fs.pool.Apply(h, delta, res, fs.engine.GC.Visited(pos), fs.engine.FSUsageLive, fs.engine.FSUsageGC)
}

// InvalidateBucket is the allocator-only invalidate transition (spec §6).
func (fs *Filesystem) InvalidateBucket(h percpu.Handle, devID uuid.UUID, bucket uint64, pos types.Pos) (types.BucketMark, error) {
	fs.markLock.RLock()
	defer fs.markLock.RUnlock()
	idx, ok := fs.indexOf(devID)
	if !ok {
		return 0, fmt.Errorf("bucketfs: unknown device %s", devID)
	}
	return fs.engine.InvalidateBucket(h, idx, bucket, pos)
}

// MarkAllocBucket sets or clears allocator ownership (spec §6).
func (fs *Filesystem) MarkAllocBucket(h percpu.Handle, devID uuid.UUID, bucket uint64, owned bool, pos types.Pos, gc bool) error {
	fs.markLock.RLock()
	defer fs.markLock.RUnlock()
	idx, ok := fs.indexOf(devID)
	if !ok {
		return fmt.Errorf("bucketfs: unknown device %s", devID)
	}
	return fs.engine.MarkAllocBucket(h, idx, bucket, owned, pos, gc)
}

// MarkMetadataBucket marks a superblock/journal bucket (spec §6).
func (fs *Filesystem) MarkMetadataBucket(h percpu.Handle, devID uuid.UUID, bucket uint64, dataType types.DataType, sectors int64, pos types.Pos, gc bool) error {
	fs.markLock.RLock()
	defer fs.markLock.RUnlock()
	idx, ok := fs.indexOf(devID)
	if !ok {
		return fmt.Errorf("bucketfs: unknown device %s", devID)
	}
	return fs.engine.MarkMetadataBucket(h, idx, bucket, dataType, sectors, pos, gc)
}

// indexOf resolves a device ID to the small integer index the marking
// engine's registry uses. Callers must already hold markLock.
func (fs *Filesystem) indexOf(id uuid.UUID) (uint32, bool) {
	target, ok := fs.byID[id]
	if !ok {
		return 0, false
	}
	for i, d := range fs.engine.Devices() {
		if d == target {
			return uint32(i), true
		}
	}
	return 0, false
}

// ReservationAdd admits a new reservation of sectors sectors (spec §6,
// §4.5 Acquire). freeSectors is invoked only on the slow path to recompute
// the pool; it must sum every device's currently free sector count.
func (fs *Filesystem) ReservationAdd(h percpu.Handle, res *types.DiskReservation, sectors uint64, flags types.ReservationFlags, freeSectors func() uint64) error {
	res.NrReplicas = maxUint32(res.NrReplicas, 1)
	return fs.pool.Acquire(h, res, sectors, flags, freeSectors)
}

// ReservationPut releases an outstanding reservation (spec §6, §4.5
// Release).
func (fs *Filesystem) ReservationPut(h percpu.Handle, res *types.DiskReservation) {
	fs.pool.Release(h, res)
}

// ReservationPool exposes the underlying pool for diagnostics (the CLI's
// `reserve`/`release` subcommands print its balance).
func (fs *Filesystem) ReservationPool() *reservation.Pool { return fs.pool }

// Sweep runs the bucket-seq cleanup pass (spec §4.6, §6 "to GC") across
// every registered device. The mark-lock read pin covers only taking the
// device snapshot; the sweep itself runs without it, using the lock-free
// CAS primitive on each mark, so a concurrent table resize can proceed
// while a device is being swept.
func (fs *Filesystem) Sweep(lastJournalSeq uint64) ([]sweep.Result, error) {
	fs.markLock.RLock()
	devs := fs.Devices()
	fs.markLock.RUnlock()
	return sweep.Run(devs, lastJournalSeq)
}

// RebuildAllDeviceUsage rebuilds every device's live usage counters from
// its authoritative bucket marks under the mark-lock in write mode (spec
// §6 dev_usage_from_buckets), the mount-time / post-GC-scan recovery
// path.
func (fs *Filesystem) RebuildAllDeviceUsage(h percpu.Handle) {
	fs.markLock.Lock()
	defer fs.markLock.Unlock()
	for _, dev := range fs.byID {
		dev.RebuildUsage(dev.UsageLive, h)
	}
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
