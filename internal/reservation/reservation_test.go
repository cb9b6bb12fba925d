package reservation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
	"github.com/deploymenttheory/go-bucketfs/internal/usage"
)

func newTestPool(t *testing.T, shift uint) *Pool {
	t.Helper()
	return New(&sync.RWMutex{}, usage.New(), shift)
}

func freeSectorsFunc(n uint64) func() uint64 {
	return func() uint64 { return n }
}

// S1 — reservation_add(res, 100) against a fresh pool: res.Sectors=100,
// online_reserved=100, pool debited by up to sectors+SECTORS_CACHE.
func TestAcquireFromEmptyPoolRecalculatesAndAdmits(t *testing.T) {
	p := newTestPool(t, 6)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	var res types.DiskReservation
	require.NoError(t, p.Acquire(h, &res, 100, 0, freeSectorsFunc(8192)))

	assert.Equal(t, uint64(100), res.Sectors)
	assert.Equal(t, int64(100), p.fsUsage.Read().OnlineReserved)
}

func TestAcquireServesFromCacheWithoutTouchingGlobalPool(t *testing.T) {
	p := newTestPool(t, 6)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	// Prime a large pool balance via an initial cold-cache Recalculate.
	var res1 types.DiskReservation
	require.NoError(t, p.Acquire(h, &res1, 1, 0, freeSectorsFunc(1_000_000)))

	// This withdraws sectors+SECTORS_CACHE from the pool into this CPU's
	// cache in one step.
	var res2 types.DiskReservation
	require.NoError(t, p.Acquire(h, &res2, 50, 0, freeSectorsFunc(1_000_000)))
	afterCacheFill := p.Available()

	// A third, smaller request should be served entirely out of the
	// cache left over from res2's withdrawal.
	var res3 types.DiskReservation
	require.NoError(t, p.Acquire(h, &res3, 30, 0, freeSectorsFunc(1_000_000)))

	assert.Equal(t, afterCacheFill, p.Available(), "a request satisfied entirely from the per-CPU cache must not touch the global pool")
	assert.Equal(t, uint64(30), res3.Sectors)
}

// S5 — NoSpace: recalculate still can't satisfy the request, res and
// online_reserved are left unchanged.
func TestAcquireReturnsNoSpaceWhenRecalculateStillInsufficient(t *testing.T) {
	p := newTestPool(t, 6)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	var res types.DiskReservation
	err := p.Acquire(h, &res, 200, 0, freeSectorsFunc(100))
	assert.ErrorIs(t, err, types.ErrNoSpace)
	assert.Zero(t, res.Sectors)
	assert.Zero(t, p.fsUsage.Read().OnlineReserved)
}

func TestAcquireWithNoFailAdmitsPastCapacity(t *testing.T) {
	p := newTestPool(t, 6)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	var res types.DiskReservation
	err := p.Acquire(h, &res, 200, types.ReservationNoFail, freeSectorsFunc(100))
	assert.NoError(t, err)
	assert.Equal(t, uint64(200), res.Sectors)
}

func TestReleaseDebitsOnlineReservedAndZeroesReservation(t *testing.T) {
	p := newTestPool(t, 6)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	var res types.DiskReservation
	require.NoError(t, p.Acquire(h, &res, 100, 0, freeSectorsFunc(8192)))

	p.Release(h, &res)
	assert.Zero(t, res.Sectors)
	assert.Zero(t, p.fsUsage.Read().OnlineReserved)
}

// S1's apply step: after commit, online_reserved and res.Sectors both
// return to zero and the delta is folded into live usage.
func TestApplyReconcilesFullyConsumedReservation(t *testing.T) {
	p := newTestPool(t, 6)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	var res types.DiskReservation
	require.NoError(t, p.Acquire(h, &res, 100, 0, freeSectorsFunc(8192)))

	live := usage.New()
	gc := usage.New()
	delta := &types.UsageDelta{Data: 100}
	p.Apply(h, delta, &res, false, live, gc)

	assert.Zero(t, res.Sectors)
	assert.Zero(t, p.fsUsage.Read().OnlineReserved)
	assert.Equal(t, int64(100), live.Read().Data)
	assert.Zero(t, gc.Read().Data)
}

func TestApplyLeavesUnusedPortionOfReservationOutstanding(t *testing.T) {
	p := newTestPool(t, 6)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	var res types.DiskReservation
	require.NoError(t, p.Acquire(h, &res, 100, 0, freeSectorsFunc(8192)))
	before := p.Available()

	live := usage.New()
	gc := usage.New()
	// Actual write only consumed 40 sectors of the 100 reserved.
	delta := &types.UsageDelta{Data: 40}
	p.Apply(h, delta, &res, false, live, gc)

	assert.Equal(t, uint64(60), res.Sectors, "unused reservation remains outstanding, not refunded to the pool directly")
	assert.Equal(t, before, p.Available(), "the global pool is untouched; the outstanding balance flows back only via Release + Recalculate")
	assert.Equal(t, int64(60), p.fsUsage.Read().OnlineReserved, "online_reserved drops by only the legitimately consumed 40 sectors")
}

func TestApplyRepaysOverConsumptionAboveReservation(t *testing.T) {
	p := newTestPool(t, 6)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	var res types.DiskReservation
	require.NoError(t, p.Acquire(h, &res, 10, 0, freeSectorsFunc(8192)))
	before := p.Available()

	live := usage.New()
	gc := usage.New()
	// A transaction that consumed more than it reserved is a bug: usage
	// grew by 5 sectors the reservation never debited from the pool, so
	// Apply must shrink the pool by that uncharged overage rather than
	// grow it, on top of charging the legitimate 10 sectors to the
	// reservation.
	delta := &types.UsageDelta{Data: 15}
	p.Apply(h, delta, &res, false, live, gc)

	assert.Zero(t, res.Sectors)
	assert.Equal(t, before-5, p.Available())
}

// A transaction that only frees sectors (a deletion) must leave the
// reservation and online_reserved untouched: bch2_fs_usage_apply only
// debits them when added > 0, and this Apply call carries no reservation
// of its own to reconcile against.
func TestApplyLeavesReservationUntouchedOnPureRemoval(t *testing.T) {
	p := newTestPool(t, 6)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	var res types.DiskReservation
	require.NoError(t, p.Acquire(h, &res, 100, 0, freeSectorsFunc(8192)))
	reservedBefore := res.Sectors
	onlineReservedBefore := p.fsUsage.Read().OnlineReserved

	live := usage.New()
	gc := usage.New()
	// A deletion: the transaction net-released sectors rather than
	// consuming any.
	delta := &types.UsageDelta{Data: -40}
	p.Apply(h, delta, &res, false, live, gc)

	assert.Equal(t, reservedBefore, res.Sectors, "a net-negative delta must not grow the outstanding reservation")
	assert.Equal(t, onlineReservedBefore, p.fsUsage.Read().OnlineReserved, "online_reserved must not grow on a pure removal")
	assert.Equal(t, int64(-40), live.Read().Data, "the delta itself is still folded into live usage")
}

func TestApplyFoldsIntoGCUsageWhenVisited(t *testing.T) {
	p := newTestPool(t, 6)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	var res types.DiskReservation
	require.NoError(t, p.Acquire(h, &res, 10, 0, freeSectorsFunc(8192)))

	live := usage.New()
	gc := usage.New()
	delta := &types.UsageDelta{Data: 10}
	p.Apply(h, delta, &res, true, live, gc)

	assert.Equal(t, int64(10), gc.Read().Data)
}

func TestVerifyInvariantPassesWhenWithinCapacity(t *testing.T) {
	p := newTestPool(t, 6)
	assert.NoError(t, p.VerifyInvariant(1000, 0))
}

func TestVerifyInvariantFailsWhenOverCapacity(t *testing.T) {
	p := newTestPool(t, 6)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)
	var res types.DiskReservation
	require.NoError(t, p.Acquire(h, &res, 100, 0, freeSectorsFunc(8192)))

	err := p.VerifyInvariant(10, 5000)
	assert.ErrorIs(t, err, types.ErrInconsistency)
}
