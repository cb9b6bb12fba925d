package marking

import (
	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

// markBtreePointer marks every pointer of a btree node key with
// ±btree_node_size sectors and DataTypeBtree (spec §4.4 "Btree pointer").
func (e *Engine) markBtreePointer(h percpu.Handle, key types.BtreePointerKey, sign int64, pos types.Pos, journalSeq uint64, gc bool) error {
	sectors := sign * int64(e.BtreeNodeSectors)
	for _, p := range key.Pointers {
		if err := e.markPointer(h, p, sectors, types.DataTypeBtree, pos, journalSeq, gc); err != nil {
			return err
		}
	}
	return nil
}

// markExtent marks every underlying pointer of an extent and folds the
// aggregated cached/dirty/erasure-coded sector totals into fsDelta (spec
// §4.4 "Extent aggregation"). signedSectors is the caller's logical
// sector delta, already sign-adjusted for insert/remove; each pointer
// independently scales it for its own compression ratio.
func (e *Engine) markExtent(h percpu.Handle, ext types.Extent, signedSectors int64, pos types.Pos, fsDelta *types.UsageDelta, journalSeq uint64, gc bool) error {
	var (
		cachedSectors int64
		dirtySectors  int64
		ecSectors     int64
		replicas      uint32
		ecRedundancy  uint32
	)

	for i := range ext.Pointers {
		p := ext.Pointers[i]
		diskSectors := p.Compression.DiskSectors(signedSectors)
		adjusted := diskSectors

		if err := e.markPointer(h, p, diskSectors, types.DataTypeUser, pos, journalSeq, gc); err != nil {
			return err
		}

		if !p.Cached && p.Stripe != nil {
			parity, err := e.markStripePtr(h, *p.Stripe, diskSectors, gc)
			if err != nil {
				return err
			}
			adjusted += parity
			if r := uint32(p.Stripe.NrRedundant); r > ecRedundancy {
				ecRedundancy = r
			}
		}

		if !p.Cached {
			replicas++
		}

		switch {
		case p.Cached:
			cachedSectors += adjusted
		case p.Stripe == nil:
			dirtySectors += adjusted
		default:
			ecSectors += adjusted
		}
	}

	replicas = clampReplicas(replicas)
	ecRedundancy = clampReplicas(ecRedundancy)

	var d types.UsageDelta
	d.Cached = cachedSectors
	d.Replicas[0].Data[types.DataTypeCached] += cachedSectors

	d.Data = dirtySectors + ecSectors
	d.Replicas[replicas-1].Data[types.DataTypeUser] += dirtySectors
	d.Replicas[ecRedundancy-1].ECData += ecSectors

	fsDelta.Add(d)
	e.foldFSDelta(h, d, pos, gc)
	return nil
}

// markStripeKey creates or retires the stripe record at key.Idx and marks
// the stripe bit on each bucket the stripe's blocks resolve to (spec §4.4
// "Stripe key").
func (e *Engine) markStripeKey(h percpu.Handle, key types.StripeKey, inserting bool, pos types.Pos, gc bool) error {
	m := e.StripesLive
	if gc {
		m = e.StripesGC
	}

	if inserting {
		rec := key.Record
		rec.Alive = true
		if rec.BlockSectors == nil {
			rec.BlockSectors = make([]uint32, rec.NrBlocks)
		}
		m.Set(key.Idx, &rec)
	} else {
		if rec, ok := m.Get(key.Idx); ok {
			rec.Lock()
			rec.Alive = false
			rec.Unlock()
		}
		m.Delete(key.Idx)
	}

	for _, p := range key.Pointers {
		if err := e.markStripeBucket(h, p, inserting, pos, gc); err != nil {
			return err
		}
	}
	return nil
}

// markStripeBucket flips the stripe bit on the bucket ptr resolves to,
// mirroring mark_pointer's CAS-loop shape but touching only the stripe
// flag rather than sector counters.
func (e *Engine) markStripeBucket(h percpu.Handle, p types.Pointer, set bool, pos types.Pos, gc bool) error {
	dev, ok := e.Device(p.Dev)
	if !ok {
		return nil
	}
	if p.Bucket >= dev.NrBuckets() {
		return nil
	}
	word := dev.Table().Mark(p.Bucket)
	old, new := word.Mutate(func(cur types.BucketMark) types.BucketMark {
		return cur.WithStripe(set)
	})
	if old == new {
		return nil
	}
	delta := deviceUsageDelta(old, new, dev.BucketSize)
	e.foldDeviceDelta(dev, h, delta, pos, gc)
	return nil
}
