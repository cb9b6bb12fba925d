// Package marking implements the key marking engine (spec §4.4): the
// entry point writers and GC use to translate an inserted/removed key
// into bucket-mark transitions and usage-counter deltas.
//
// Every exported method here mirrors mark_key_locked's contract: the
// caller already holds the fs-wide mark-lock (in read mode for ordinary
// marking, write mode only for the rebuild/recalculate paths that live
// in other packages) and supplies the percpu.Handle it acquired for that
// pin, so this package never touches locking itself.
package marking

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/deploymenttheory/go-bucketfs/internal/devicetable"
	"github.com/deploymenttheory/go-bucketfs/internal/gcpos"
	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
	"github.com/deploymenttheory/go-bucketfs/internal/usage"
)

// StripeMap is the sparse, index-keyed stripe table (spec §3 "Stripe
// record"). A live and a gc instance exist side by side, matching the
// live/gc shadow world spec §9 describes for usage counters.
type StripeMap struct {
	mu sync.RWMutex
	m  map[uint64]*types.StripeRecord
}

// NewStripeMap returns an empty stripe map.
func NewStripeMap() *StripeMap {
	return &StripeMap{m: make(map[uint64]*types.StripeRecord)}
}

// Get returns the stripe record at idx, if any.
func (s *StripeMap) Get(idx uint64) (*types.StripeRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[idx]
	return r, ok
}

// Set installs (or replaces) the stripe record at idx.
func (s *StripeMap) Set(idx uint64, rec *types.StripeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[idx] = rec
}

// Delete retires the stripe record at idx.
func (s *StripeMap) Delete(idx uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, idx)
}

// Engine owns the filesystem-level accounting state the marking
// operations mutate: the device registry, the live/gc fs-usage counter
// pairs, the live/gc stripe maps, and the GC cursor. internal/bucketfs
// wires an Engine together with the mark-lock and the disk-reservation
// pool to expose the full §6 external interface.
type Engine struct {
	devicesMu sync.RWMutex
	devices   []*devicetable.Device

	FSUsageLive *usage.Counters
	FSUsageGC   *usage.Counters

	StripesLive *StripeMap
	StripesGC   *StripeMap

	GC *gcpos.Cursor

	// allocReadDone gates whether a stale-generation pointer is a
	// silent no-op (alloc btree fully read; some other writer already
	// invalidated the bucket we're racing against) or a fatal
	// inconsistency (still bootstrapping; nothing should reference a
	// bucket whose gen we haven't loaded yet). Spec §4.4 step 1, §7.
	allocReadDone atomic.Bool

	// BtreeNodeSectors is the fixed size charged for a btree-pointer
	// key's underlying pointers (spec §4.4 "mark each underlying
	// pointer with ±btree_node_size sectors").
	BtreeNodeSectors uint32
}

// DefaultBtreeNodeSectors is the btree node size used when an Engine is
// constructed without an explicit override.
const DefaultBtreeNodeSectors = 256

// NewEngine returns an Engine with empty device registry, fresh live/gc
// usage counters and stripe maps, and a fresh GC cursor.
func NewEngine() *Engine {
	return &Engine{
		FSUsageLive:      usage.New(),
		FSUsageGC:        usage.New(),
		StripesLive:      NewStripeMap(),
		StripesGC:        NewStripeMap(),
		GC:               &gcpos.Cursor{},
		BtreeNodeSectors: DefaultBtreeNodeSectors,
	}
}

// SetAllocReadDone flips the alloc-btree-read-finished gate (spec §4.4
// step 1, §7 "fatal error if the filesystem has not yet finished
// reading the alloc btree").
func (e *Engine) SetAllocReadDone(v bool) { e.allocReadDone.Store(v) }

// RegisterDevice adds dev to the registry and returns the small integer
// index Pointer.Dev fields resolve against.
func (e *Engine) RegisterDevice(dev *devicetable.Device) uint32 {
	e.devicesMu.Lock()
	defer e.devicesMu.Unlock()
	e.devices = append(e.devices, dev)
	return uint32(len(e.devices) - 1)
}

// Device resolves a pointer's device index to its Device.
func (e *Engine) Device(idx uint32) (*devicetable.Device, bool) {
	e.devicesMu.Lock()
	defer e.devicesMu.Unlock()
	if int(idx) >= len(e.devices) {
		return nil, false
	}
	return e.devices[idx], true
}

// Devices returns a snapshot slice of every registered device, in
// registration (index) order.
func (e *Engine) Devices() []*devicetable.Device {
	e.devicesMu.Lock()
	defer e.devicesMu.Unlock()
	out := make([]*devicetable.Device, len(e.devices))
	copy(out, e.devices)
	return out
}

// foldDeviceDelta folds a device delta into the device's live usage
// counters, and also into its gc counters when gc-mode was requested or
// GC's cursor has already visited pos (spec §4.3 "Live vs GC shards").
func (e *Engine) foldDeviceDelta(dev *devicetable.Device, h percpu.Handle, delta types.UsageDelta, pos types.Pos, gc bool) {
	dev.UsageLive.Add(h, delta)
	if gc || e.GC.Visited(pos) {
		dev.UsageGC.Add(h, delta)
	}
}

func (e *Engine) foldFSDelta(h percpu.Handle, delta types.UsageDelta, pos types.Pos, gc bool) {
	e.FSUsageLive.Add(h, delta)
	if gc || e.GC.Visited(pos) {
		e.FSUsageGC.Add(h, delta)
	}
}

// MarkKey is the entry point mark_key dispatches through (spec §4.4). It
// mutates bucket marks for every pointer the key resolves to and folds
// the resulting deltas into fsDelta (the caller's transient per-
// transaction accumulator, spec §2) as well as directly into device usage
// counters and (for extent, inode-alloc and reservation keys) fs usage
// counters.
func (e *Engine) MarkKey(h percpu.Handle, key types.Key, inserting bool, sectors int64, pos types.Pos, fsDelta *types.UsageDelta, journalSeq uint64, gc bool) error {
	sign := int64(1)
	if !inserting {
		sign = -1
	}
	switch key.Kind {
	case types.KeyKindBtreePointer:
		if key.BtreePointer == nil {
			return fmt.Errorf("bucketfs: btree-pointer key missing payload")
		}
		return e.markBtreePointer(h, *key.BtreePointer, sign, pos, journalSeq, gc)
	case types.KeyKindExtent:
		if key.Extent == nil {
			return fmt.Errorf("bucketfs: extent key missing payload")
		}
		return e.markExtent(h, *key.Extent, sign*sectors, pos, fsDelta, journalSeq, gc)
	case types.KeyKindStripe:
		if key.Stripe == nil {
			return fmt.Errorf("bucketfs: stripe key missing payload")
		}
		return e.markStripeKey(h, *key.Stripe, inserting, pos, gc)
	case types.KeyKindInodeAlloc:
		fsDelta.NrInodes += sign
		e.foldFSDelta(h, types.UsageDelta{NrInodes: sign}, pos, gc)
		return nil
	case types.KeyKindReservation:
		if key.Reservation == nil {
			return fmt.Errorf("bucketfs: reservation key missing payload")
		}
		return e.markReservationPlaceholder(h, *key.Reservation, sign*sectors, pos, fsDelta, gc)
	default:
		return fmt.Errorf("bucketfs: unknown key kind %v", key.Kind)
	}
}

// markReservationPlaceholder adjusts reserved by sectors*nr_replicas and
// the corresponding replicas[r-1].persistent_reserved (spec §4.4).
func (e *Engine) markReservationPlaceholder(h percpu.Handle, k types.ReservationKey, sectors int64, pos types.Pos, fsDelta *types.UsageDelta, gc bool) error {
	replicas := clampReplicas(k.NrReplicas)
	total := sectors * int64(k.NrReplicas)

	var d types.UsageDelta
	d.Reserved = total
	d.Replicas[replicas-1].PersistentReserved = total

	fsDelta.Add(d)
	e.foldFSDelta(h, d, pos, gc)
	return nil
}

func clampReplicas(r uint32) uint32 {
	if r < 1 {
		return 1
	}
	if r > types.MaxReplicas {
		return types.MaxReplicas
	}
	return r
}
