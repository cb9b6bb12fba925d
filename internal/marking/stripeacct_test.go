package marking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

func newAliveStripe(t *testing.T, e *Engine, idx uint64, nrBlocks, nrRedundant uint8) {
	t.Helper()
	rec := &types.StripeRecord{
		NrBlocks:     nrBlocks,
		NrRedundant:  nrRedundant,
		Alive:        true,
		BlockSectors: make([]uint32, nrBlocks),
	}
	e.StripesLive.Set(idx, rec)
}

func TestMarkStripePtrChargesCeilingParity(t *testing.T) {
	e, _, _ := newTestEngine(t, 4)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)
	newAliveStripe(t, e, 1, 4, 1) // 3 data blocks, 1 redundant

	// 100 sectors * 1 redundant / 3 data blocks = 33.33 -> ceil 34.
	parity, err := e.markStripePtr(h, types.StripePtr{Idx: 1, Block: 0}, 100, false)
	require.NoError(t, err)
	assert.Equal(t, int64(34), parity)

	rec, ok := e.StripesLive.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint32(100), rec.BlockSectors[0])
	assert.Equal(t, 1, rec.BlocksNonEmpty)
}

func TestMarkStripePtrNegativeSectorsReleaseParitySigned(t *testing.T) {
	e, _, _ := newTestEngine(t, 4)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)
	newAliveStripe(t, e, 1, 4, 1)

	_, err := e.markStripePtr(h, types.StripePtr{Idx: 1, Block: 0}, 100, false)
	require.NoError(t, err)

	parity, err := e.markStripePtr(h, types.StripePtr{Idx: 1, Block: 0}, -100, false)
	require.NoError(t, err)
	assert.Equal(t, int64(-34), parity)

	rec, _ := e.StripesLive.Get(1)
	assert.Equal(t, uint32(0), rec.BlockSectors[0])
	assert.Equal(t, 0, rec.BlocksNonEmpty)
}

func TestMarkStripePtrMissingStripeErrors(t *testing.T) {
	e, _, _ := newTestEngine(t, 4)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	_, err := e.markStripePtr(h, types.StripePtr{Idx: 99, Block: 0}, 10, false)
	assert.ErrorIs(t, err, types.ErrMissingStripe)
}

func TestMarkStripePtrBlockOutOfRangeErrors(t *testing.T) {
	e, _, _ := newTestEngine(t, 4)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)
	newAliveStripe(t, e, 1, 2, 1)

	_, err := e.markStripePtr(h, types.StripePtr{Idx: 1, Block: 5}, 10, false)
	assert.ErrorIs(t, err, types.ErrMissingStripe)
}

func TestMarkStripeKeyInsertMarksBucketsAndRetireClearsAlive(t *testing.T) {
	e, dev, devIdx := newTestEngine(t, 4)
	h := percpu.AcquireHandle()
	defer percpu.ReleaseHandle(h)

	key := types.StripeKey{
		Idx:      2,
		Record:   types.StripeRecord{NrBlocks: 2, NrRedundant: 1},
		Pointers: []types.Pointer{{Dev: devIdx, Bucket: 0}, {Dev: devIdx, Bucket: 1}},
	}
	require.NoError(t, e.markStripeKey(h, key, true, types.Pos{}, false))

	assert.True(t, dev.Table().Mark(0).Load().Stripe())
	assert.True(t, dev.Table().Mark(1).Load().Stripe())
	rec, ok := e.StripesLive.Get(2)
	require.True(t, ok)
	assert.True(t, rec.Alive)

	require.NoError(t, e.markStripeKey(h, key, false, types.Pos{}, false))
	assert.False(t, dev.Table().Mark(0).Load().Stripe())
	_, ok = e.StripesLive.Get(2)
	assert.False(t, ok)
}
