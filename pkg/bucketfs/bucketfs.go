// Package bucketfs is the public facade over the bucket accounting core:
// a thin wrapper around internal/bucketfs.Filesystem that re-exports the
// types external callers need (device handles, positions, usage
// snapshots, reservations) without requiring an import of internal/*.
package bucketfs

import (
	"github.com/google/uuid"

	"github.com/deploymenttheory/go-bucketfs/internal/bucketfs"
	"github.com/deploymenttheory/go-bucketfs/internal/devicetable"
	"github.com/deploymenttheory/go-bucketfs/internal/marking"
	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/sweep"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
	"github.com/deploymenttheory/go-bucketfs/internal/usage"
)

// Re-exported types external callers construct or receive.
type (
	Key              = types.Key
	KeyKind          = types.KeyKind
	BtreePointerKey  = types.BtreePointerKey
	Extent           = types.Extent
	StripeKey        = types.StripeKey
	InodeAllocKey    = types.InodeAllocKey
	ReservationKey   = types.ReservationKey
	Pointer          = types.Pointer
	StripePtr        = types.StripePtr
	Compression      = types.Compression
	StripeRecord     = types.StripeRecord
	Pos              = types.Pos
	DataType         = types.DataType
	BucketMark       = types.BucketMark
	UsageDelta       = types.UsageDelta
	UsageSnapshot    = types.UsageSnapshot
	ShortUsage       = types.ShortUsage
	DiskReservation  = types.DiskReservation
	ReservationFlags = types.ReservationFlags
	Handle           = percpu.Handle
	Device           = devicetable.Device
	Waker            = devicetable.Waker
	ExistingExtent   = marking.ExistingExtent
	SweepResult      = sweep.Result
)

const (
	KeyKindBtreePointer = types.KeyKindBtreePointer
	KeyKindExtent       = types.KeyKindExtent
	KeyKindStripe       = types.KeyKindStripe
	KeyKindInodeAlloc   = types.KeyKindInodeAlloc
	KeyKindReservation  = types.KeyKindReservation

	DataTypeNone    = types.DataTypeNone
	DataTypeSB      = types.DataTypeSB
	DataTypeJournal = types.DataTypeJournal
	DataTypeBtree   = types.DataTypeBtree
	DataTypeUser    = types.DataTypeUser
	DataTypeCached  = types.DataTypeCached

	ReservationNoFail         = types.ReservationNoFail
	ReservationGCLockHeld     = types.ReservationGCLockHeld
	ReservationBTreeLocksHeld = types.ReservationBTreeLocksHeld

	DefaultReserveFactorShift = usage.DefaultReserveFactorShift
)

// AcquireHandle and ReleaseHandle bind/release a per-CPU shard slot for
// the calling goroutine, required by every Filesystem method below.
func AcquireHandle() Handle  { return percpu.AcquireHandle() }
func ReleaseHandle(h Handle) { percpu.ReleaseHandle(h) }

// Filesystem is the public handle onto one accounting-core instance.
type Filesystem struct {
	inner *bucketfs.Filesystem
}

// New returns an empty Filesystem with no devices registered.
// reserveFactorShift parameterizes the reservation pool's markup;
// DefaultReserveFactorShift matches the source's RESERVE_FACTOR.
func New(reserveFactorShift uint) *Filesystem {
	return &Filesystem{inner: bucketfs.New(reserveFactorShift)}
}

// DevBucketsAlloc allocates and registers a new device.
func (fs *Filesystem) DevBucketsAlloc(bucketSize uint32, nbuckets, firstBucket uint64, waker Waker) (*Device, error) {
	return fs.inner.DevBucketsAlloc(bucketSize, nbuckets, firstBucket, waker)
}

// DevBucketsResize replaces a device's bucket table.
func (fs *Filesystem) DevBucketsResize(id uuid.UUID, nbuckets uint64) error {
	return fs.inner.DevBucketsResize(id, nbuckets)
}

// DevBucketsFree zeroes a device's bucket marks and usage counters and
// deregisters it.
func (fs *Filesystem) DevBucketsFree(id uuid.UUID) error {
	return fs.inner.DevBucketsFree(id)
}

// Device looks up a registered device by ID.
func (fs *Filesystem) Device(id uuid.UUID) (*Device, bool) { return fs.inner.Device(id) }

// Devices returns every registered device.
func (fs *Filesystem) Devices() []*Device { return fs.inner.Devices() }

// MarkKeyLocked marks a key under a mark-lock read pin.
func (fs *Filesystem) MarkKeyLocked(h Handle, key Key, inserting bool, sectors int64, pos Pos, delta *UsageDelta, journalSeq uint64, gc bool) error {
	return fs.inner.MarkKeyLocked(h, key, inserting, sectors, pos, delta, journalSeq, gc)
}

// MarkUpdate walks a btree node's overlapping extent keys.
func (fs *Filesystem) MarkUpdate(h Handle, newStart, newEnd uint64, newPos Pos, existing []ExistingExtent, delta *UsageDelta, journalSeq uint64, gc bool) error {
	return fs.inner.MarkUpdate(h, newStart, newEnd, newPos, existing, delta, journalSeq, gc)
}

// Apply reconciles a completed transaction's delta against its
// reservation at commit.
func (fs *Filesystem) Apply(h Handle, delta *UsageDelta, res *DiskReservation, pos Pos) {
	fs.inner.Apply(h, delta, res, pos)
}

// InvalidateBucket performs the allocator's invalidate transition.
func (fs *Filesystem) InvalidateBucket(h Handle, devID uuid.UUID, bucket uint64, pos Pos) (BucketMark, error) {
	return fs.inner.InvalidateBucket(h, devID, bucket, pos)
}

// MarkAllocBucket sets or clears allocator ownership.
func (fs *Filesystem) MarkAllocBucket(h Handle, devID uuid.UUID, bucket uint64, owned bool, pos Pos, gc bool) error {
	return fs.inner.MarkAllocBucket(h, devID, bucket, owned, pos, gc)
}

// MarkMetadataBucket marks a superblock/journal bucket.
func (fs *Filesystem) MarkMetadataBucket(h Handle, devID uuid.UUID, bucket uint64, dataType DataType, sectors int64, pos Pos, gc bool) error {
	return fs.inner.MarkMetadataBucket(h, devID, bucket, dataType, sectors, pos, gc)
}

// ReservationAdd admits a new disk reservation.
func (fs *Filesystem) ReservationAdd(h Handle, res *DiskReservation, sectors uint64, flags ReservationFlags, freeSectors func() uint64) error {
	return fs.inner.ReservationAdd(h, res, sectors, flags, freeSectors)
}

// ReservationPut releases an outstanding disk reservation.
func (fs *Filesystem) ReservationPut(h Handle, res *DiskReservation) {
	fs.inner.ReservationPut(h, res)
}

// Sweep runs the bucket-seq cleanup pass across every device once.
func (fs *Filesystem) Sweep(lastJournalSeq uint64) ([]SweepResult, error) {
	return fs.inner.Sweep(lastJournalSeq)
}

// RebuildAllDeviceUsage rebuilds every device's live usage counters from
// its authoritative bucket marks.
func (fs *Filesystem) RebuildAllDeviceUsage(h Handle) {
	fs.inner.RebuildAllDeviceUsage(h)
}

// FSUsage returns a point-in-time snapshot of filesystem-wide live usage.
func (fs *Filesystem) FSUsage() UsageSnapshot {
	return fs.inner.Engine().FSUsageLive.Read()
}

// FSUsageShort returns the public {capacity, used, nr_inodes} projection
// for the whole filesystem given its total device capacity in sectors.
func (fs *Filesystem) FSUsageShort(capacity uint64) ShortUsage {
	return fs.inner.Engine().FSUsageLive.ReadShort(capacity)
}
