// Package reservation implements disk-space admission control (spec
// §4.5): a per-CPU sectors_available cache backed by a global atomic
// pool, so that ordinary writes can reserve space with a single atomic
// add on the fast path instead of contending on one filesystem-wide
// counter.
package reservation

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
	"github.com/deploymenttheory/go-bucketfs/internal/usage"
)

// SectorsCache bounds how many sectors a single Acquire withdraws from
// the global pool into a CPU's cache beyond what it immediately needs
// (spec §4.5 "SECTORS_CACHE = 1024").
const SectorsCache = 1024

// Pool is the filesystem-wide disk-reservation admission state. mu
// stands in for the mark-lock's read/write modes: Acquire and Release
// hold it in read mode (concurrent with each other and with ordinary
// marking), Recalculate takes it in write mode, matching spec §4.5's
// "take the mark-lock in write mode" step. Recalculate takes no gc-lock,
// and nothing in internal/bucketfs serializes GC sweeps against calls
// into Recalculate.
type Pool struct {
	mu        RWLocker
	available atomic.Int64
	caches    [percpu.MaxShards]atomic.Int64

	fsUsage *usage.Counters
	shift   uint
}

// RWLocker is satisfied by *sync.RWMutex; declared as an interface only
// so tests can substitute a no-op lock when exercising Pool directly
// without a surrounding Filesystem.
type RWLocker interface {
	RLock()
	RUnlock()
	Lock()
	Unlock()
}

// New returns a Pool with an empty cache and zero pool, folding
// online_reserved credits into fsUsage. shift parameterizes
// ReserveFactor/AvailFactor (spec §4.3's configurable RESERVE_FACTOR).
func New(mu RWLocker, fsUsage *usage.Counters, shift uint) *Pool {
	return &Pool{mu: mu, fsUsage: fsUsage, shift: shift}
}

// Available returns the current global pool balance. Racy with
// concurrent Acquire/Recalculate; intended for diagnostics (the CLI's
// `reserve`/`release` subcommands).
func (p *Pool) Available() int64 { return p.available.Load() }

func (p *Pool) debitCache(h percpu.Handle, sectors uint64, res *types.DiskReservation) bool {
	shard := &p.caches[h.Shard()]
	for {
		cur := shard.Load()
		if cur < int64(sectors) {
			return false
		}
		if shard.CAS(cur, cur-int64(sectors)) {
			p.fsUsage.AddOnlineReserved(h, int64(sectors))
			res.Sectors += sectors
			return true
		}
	}
}

func (p *Pool) withdrawPool(want, need int64) (int64, bool) {
	for {
		cur := p.available.Load()
		amt := want
		if amt > cur {
			amt = cur
		}
		if amt < need {
			return 0, false
		}
		if p.available.CAS(cur, cur-amt) {
			return amt, true
		}
	}
}

// Acquire admits a reservation of sectors sectors for res (spec §4.5
// Acquire(res, n, flags)). recalcFreeSectors is called only on the slow
// path; it must return the filesystem's current count of sectors free
// across every device (capacity minus everything already accounted for),
// which Recalculate scales through avail_factor to refill the pool.
func (p *Pool) Acquire(h percpu.Handle, res *types.DiskReservation, sectors uint64, flags types.ReservationFlags, recalcFreeSectors func() uint64) error {
	p.mu.RLock()
	ok := p.debitCache(h, sectors, res)
	p.mu.RUnlock()
	if ok {
		return nil
	}

	if amt, ok := p.withdrawPool(int64(sectors)+SectorsCache, int64(sectors)); ok {
		p.mu.RLock()
		p.caches[h.Shard()].Add(amt)
		ok2 := p.debitCache(h, sectors, res)
		p.mu.RUnlock()
		if ok2 {
			return nil
		}
	}

	return p.Recalculate(h, res, sectors, flags, recalcFreeSectors)
}

// Recalculate implements spec §4.5 Recalculate: every CPU's cache is
// zeroed, the global pool is recomputed from the filesystem's current
// free-sector count via avail_factor, and the requested reservation is
// retried once against the freshly computed pool. The caller must not be
// holding the mark-lock in read mode when calling this directly (Acquire
// already released its read pin before reaching here).
func (p *Pool) Recalculate(h percpu.Handle, res *types.DiskReservation, sectors uint64, flags types.ReservationFlags, recalcFreeSectors func() uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.caches {
		p.caches[i].Store(0)
	}

	free := recalcFreeSectors()
	p.available.Store(int64(usage.AvailFactorShift(free, p.shift)))

	if p.available.Load() < int64(sectors) {
		if !flags.Has(types.ReservationNoFail) {
			return types.ErrNoSpace
		}
	}

	p.available.Sub(int64(sectors))
	p.fsUsage.AddOnlineReserved(h, int64(sectors))
	res.Sectors += sectors
	return nil
}

// Release gives back an outstanding reservation (spec §4.5 Release(res)):
// online_reserved is debited by res.Sectors on this CPU's shard and the
// reservation is zeroed. It does not touch the global pool directly; the
// sectors flow back to it the next time Recalculate runs.
func (p *Pool) Release(h percpu.Handle, res *types.DiskReservation) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.fsUsage.AddOnlineReserved(h, -int64(res.Sectors))
	res.Sectors = 0
}

// Apply reconciles a reservation against the actual usage delta a
// transaction produced at commit (spec §4.5 Apply(delta, res, pos)).
// liveUsage always receives the delta; gcUsage receives it too when
// gcVisited reports the position has already been swept, mirroring the
// "update live, then gc" ordering internal/marking's fold helpers use.
func (p *Pool) Apply(h percpu.Handle, delta *types.UsageDelta, res *types.DiskReservation, gcVisited bool, liveUsage, gcUsage *usage.Counters) {
	added := delta.Data + delta.Reserved
	if shouldNotHaveAdded := added - int64(res.Sectors); shouldNotHaveAdded > 0 {
		// Usage grew by more than the reservation ever debited from the
		// pool, so the pool must shrink to match: growing it here would
		// paper over the very oversubscription VerifyInvariant checks for.
		p.available.Sub(shouldNotHaveAdded)
		added -= shouldNotHaveAdded
	}

	// bch2_fs_usage_apply only debits the reservation and online_reserved
	// when the transaction actually consumed sectors; a net-negative
	// added (a pure removal) must leave both untouched, not grow them.
	if added > 0 {
		remaining := int64(res.Sectors) - added
		if remaining < 0 {
			remaining = 0
		}
		res.Sectors = uint64(remaining)
		p.fsUsage.AddOnlineReserved(h, -added)
	}

	liveUsage.Add(h, *delta)
	if gcVisited {
		gcUsage.Add(h, *delta)
	}
	delta.Zero()
}

// VerifyInvariant checks spec §4.5's "key invariant" holds against a
// summed usage snapshot: used + available + sum(per-CPU cache) must not
// exceed capacity. It is the reservation half of the debug-build
// consistency checking spec §7/§8 describe; internal/usage.Counters.
// VerifyInvariants covers the counter-non-negativity half.
func (p *Pool) VerifyInvariant(capacity uint64, used uint64) error {
	var cacheTotal int64
	for i := range p.caches {
		cacheTotal += p.caches[i].Load()
	}
	total := used + uint64(p.available.Load()) + uint64(cacheTotal)
	if total > capacity {
		return fmt.Errorf("%w: used(%d)+available(%d)+cache(%d) exceeds capacity %d", types.ErrInconsistency, used, p.available.Load(), cacheTotal, capacity)
	}
	return nil
}
