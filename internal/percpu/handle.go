// Package percpu binds a goroutine to one of a fixed number of shard
// slots for the lifetime of a Handle, standing in for the source's
// per-CPU sharding (preemption is disabled there to pin the update to
// the current CPU; Go has no equivalent, so a worker instead acquires a
// Handle once and reuses it across calls, as documented in spec.md §9
// "Cooperative preemption disable").
package percpu

import "go.uber.org/atomic"

// MaxShards bounds the number of shards any per-CPU-sharded structure in
// this module maintains. It is a compile-time ceiling, not a live CPU
// count, so behavior is identical on any machine.
const MaxShards = 64

var next atomic.Uint32
var used [MaxShards]atomic.Uint32

// Handle identifies one shard slot claimed for the calling goroutine's
// exclusive use until ReleaseHandle. Handles must not cross goroutines:
// calls made under the same Handle must not happen concurrently.
type Handle struct {
	id uint32
}

// Shard returns the shard index this handle is bound to.
func (h Handle) Shard() uint32 { return h.id % MaxShards }

// AcquireHandle claims a free shard slot for the calling goroutine.
func AcquireHandle() Handle {
	start := next.Add(1)
	end := start + MaxShards*2

	for id := start; id != end; id++ {
		slot := id % MaxShards
		if used[slot].CAS(0, 1) {
			return Handle{id: slot}
		}
	}
	panic("percpu: too many concurrent handles")
}

// ReleaseHandle frees h's shard slot for reuse by another goroutine.
func ReleaseHandle(h Handle) {
	used[h.id%MaxShards].Store(0)
}
