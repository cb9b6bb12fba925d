package marking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

func TestMarkKeyBtreePointerChargesFixedNodeSize(t *testing.T) {
	e, dev, devIdx := newTestEngine(t, 4)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)
	gen := occupy(t, e, h, devIdx, 0)

	key := types.Key{Kind: types.KeyKindBtreePointer, BtreePointer: &types.BtreePointerKey{
		Pointers: []types.Pointer{{Dev: devIdx, Bucket: 0, Gen: gen}},
	}}

	var fsDelta types.UsageDelta
	require.NoError(t, e.MarkKey(h, key, true, 0, types.Pos{}, &fsDelta, 0, false))

	m := dev.Table().Mark(0).Load()
	assert.Equal(t, e.BtreeNodeSectors, m.DirtySectors())
	assert.Equal(t, types.DataTypeBtree, m.DataType())
}

func TestMarkKeyInodeAllocAdjustsNrInodes(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	key := types.Key{Kind: types.KeyKindInodeAlloc, InodeAlloc: &types.InodeAllocKey{}}
	var fsDelta types.UsageDelta
	require.NoError(t, e.MarkKey(h, key, true, 0, types.Pos{}, &fsDelta, 0, false))
	require.NoError(t, e.MarkKey(h, key, false, 0, types.Pos{}, &fsDelta, 0, false))

	assert.Zero(t, fsDelta.NrInodes, "insert then remove should net to zero")
	assert.Zero(t, e.FSUsageLive.Read().NrInodes)
}

func TestMarkKeyReservationPlaceholderScalesByReplicas(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	key := types.Key{Kind: types.KeyKindReservation, Reservation: &types.ReservationKey{NrReplicas: 2}}
	var fsDelta types.UsageDelta
	require.NoError(t, e.MarkKey(h, key, true, 50, types.Pos{}, &fsDelta, 0, false))

	assert.Equal(t, int64(100), fsDelta.Reserved)
	assert.Equal(t, int64(100), e.FSUsageLive.Read().Reserved)
}

func TestMarkKeyUnknownKindErrors(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	var fsDelta types.UsageDelta
	err := e.MarkKey(h, types.Key{Kind: types.KeyKind(99)}, true, 0, types.Pos{}, &fsDelta, 0, false)
	assert.Error(t, err)
}

func TestGCVisitedPositionAlsoFoldsIntoGCShard(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	e.GC.Start()
	e.GC.Advance(types.Pos{Inode: 100})

	key := types.Key{Kind: types.KeyKindInodeAlloc, InodeAlloc: &types.InodeAllocKey{}}
	var fsDelta types.UsageDelta
	require.NoError(t, e.MarkKey(h, key, true, 0, types.Pos{Inode: 5}, &fsDelta, 0, false))

	assert.Equal(t, int64(1), e.FSUsageLive.Read().NrInodes)
	assert.Equal(t, int64(1), e.FSUsageGC.Read().NrInodes, "position already visited by GC must also update the gc shard")
}
