// Package devicetable implements the per-device bucket table (spec
// §4.2): an indexable array of bucket marks plus the in_use and
// has_been_written bitsets and the oldest_gen array, replaced wholesale
// on resize.
package devicetable

import (
	"fmt"

	"github.com/deploymenttheory/go-bucketfs/internal/bucketmark"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

// bitset is a flat, word-packed bit array. It exists because the marks
// table needs two of these (in_use, has_been_written) sized to the same
// bucket count and resized in lockstep with the marks; a []bool slice
// would work identically but wastes seven bits per bucket for no benefit
// here, so a small bitset is worth the handful of lines.
type bitset []uint64

func newBitset(n uint64) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) Get(i uint64) bool {
	return b[i/64]&(1<<(i%64)) != 0
}

func (b bitset) Set(i uint64, v bool) {
	if v {
		b[i/64] |= 1 << (i % 64)
	} else {
		b[i/64] &^= 1 << (i % 64)
	}
}

// allocMarks is overridable in tests to exercise the NoMemory failure
// path (spec §4.2 "Failure: allocation failure returns NoMemory without
// mutating the existing table") without actually exhausting memory.
var allocMarks = func(n uint64) ([]bucketmark.Word, error) {
	return make([]bucketmark.Word, n), nil
}

// Table is one device's bucket-mark array plus its auxiliary per-bucket
// state (spec §3 "Bucket Table").
type Table struct {
	FirstBucket uint64
	marks       []bucketmark.Word
	inUse       bitset
	written     bitset
	oldestGen   []uint8
}

// NrBuckets returns the table's bucket count, including the reserved
// first_bucket prefix.
func (t *Table) NrBuckets() uint64 { return uint64(len(t.marks)) }

// Allocate builds a fresh table of nbuckets buckets, of which the first
// firstBucket are reserved headers with an all-zero (free) mark.
func Allocate(nbuckets, firstBucket uint64) (*Table, error) {
	if firstBucket > nbuckets {
		return nil, fmt.Errorf("%w: first_bucket %d exceeds nbuckets %d", types.ErrNoMemory, firstBucket, nbuckets)
	}
	marks, err := allocMarks(nbuckets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNoMemory, err)
	}
	return &Table{
		FirstBucket: firstBucket,
		marks:       marks,
		inUse:       newBitset(nbuckets),
		written:     newBitset(nbuckets),
		oldestGen:   make([]uint8, nbuckets),
	}, nil
}

// Mark returns the bucket-mark CAS word for bucket index b.
func (t *Table) Mark(b uint64) *bucketmark.Word {
	return &t.marks[b]
}

// InUse reports and sets the in_use bit for bucket b.
func (t *Table) InUse(b uint64) bool        { return t.inUse.Get(b) }
func (t *Table) SetInUse(b uint64, v bool)  { t.inUse.Set(b, v) }

// HasBeenWritten reports and sets the has_been_written bit for bucket b.
func (t *Table) HasBeenWritten(b uint64) bool       { return t.written.Get(b) }
func (t *Table) SetHasBeenWritten(b uint64, v bool) { t.written.Set(b, v) }

// OldestGen returns and sets the oldest-generation hint for bucket b.
func (t *Table) OldestGen(b uint64) uint8      { return t.oldestGen[b] }
func (t *Table) SetOldestGen(b uint64, g uint8) { t.oldestGen[b] = g }

// IterateLive calls fn for every bucket whose data type is not none, in
// index order starting from FirstBucket. Used at mount to rebuild device
// usage from the authoritative bucket marks (spec §4.2 iterate_live()).
func (t *Table) IterateLive(fn func(b uint64, mark types.BucketMark)) {
	for b := t.FirstBucket; b < t.NrBuckets(); b++ {
		m := t.marks[b].Load()
		if m.DataType() != types.DataTypeNone {
			fn(b, m)
		}
	}
}

// IterateAll calls fn for every bucket regardless of data type, in index
// order starting from FirstBucket. The bucket-seq cleanup pass (spec
// §4.6) needs this rather than IterateLive: a bucket can carry a stale
// journal_seq_valid bit while its data type has already reset to none.
func (t *Table) IterateAll(fn func(b uint64, mark types.BucketMark)) {
	for b := t.FirstBucket; b < t.NrBuckets(); b++ {
		fn(b, t.marks[b].Load())
	}
}
