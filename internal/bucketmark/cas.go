// Package bucketmark provides the lock-free compare-and-swap combinator
// bucket marks are mutated through (spec §4.1). It never reads or writes
// a BucketMark's bits directly — internal/types owns the bitfield layout
// — it only owns the retry loop around the packed atomic word, the same
// role zeebo/gofaster's pin.Location.CAS plays for that package's packed
// pointer word.
package bucketmark

import (
	"go.uber.org/atomic"

	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

// Word is the atomic storage for one bucket's mark.
type Word struct {
	v atomic.Uint64
}

// Load reads the current mark.
func (w *Word) Load() types.BucketMark {
	return types.BucketMark(w.v.Load())
}

// Mutate repeatedly loads the mark, applies fn to a local copy, and
// compare-and-swaps the result back until it wins the race. It returns
// the mark that was in effect just before the winning CAS (the "old"
// mark), matching the source's bucket_cmpxchg idiom of returning the
// pre-mutation state for callers that need to compute a delta.
func (w *Word) Mutate(fn func(old types.BucketMark) types.BucketMark) (old, new types.BucketMark) {
	for {
		old = types.BucketMark(w.v.Load())
		new = fn(old)
		if w.v.CAS(uint64(old), uint64(new)) {
			return old, new
		}
	}
}

// MutateNonAtomic is the "non-atomic fast-path variant... permitted
// during filesystem startup before any concurrent access can occur"
// (spec §4.1). It skips the CAS loop entirely; callers are responsible
// for ensuring no concurrent access is possible.
func (w *Word) MutateNonAtomic(fn func(old types.BucketMark) types.BucketMark) (old, new types.BucketMark) {
	old = types.BucketMark(w.v.Load())
	new = fn(old)
	w.v.Store(uint64(new))
	return old, new
}
