// Package sweep implements the bucket-seq cleanup pass (spec §4.6): a
// periodic walk of every bucket in every device that clears a stale
// journal_seq_valid bit before the narrow journal_seq field can wrap
// around and falsely claim a bucket was touched recently.
package sweep

import (
	"fmt"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/deploymenttheory/go-bucketfs/internal/devicetable"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

// Result is one device's outcome from a single sweep pass.
type Result struct {
	Device  *devicetable.Device
	Cleared int
}

// Run sweeps every device concurrently, clearing any journal_seq_valid
// bit whose journal_seq predates lastJournalSeq. Each device's sweep runs
// under its own recover so a panic on one device (a nil table, a
// corrupted bitset) doesn't take the rest of the pass down with it;
// recovered panics and any returned errors are combined with multierr so
// one device's failure never hides another's.
func Run(devices []*devicetable.Device, lastJournalSeq uint64) ([]Result, error) {
	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(devices))
		errs    error
	)

	var wg conc.WaitGroup
	for _, dev := range devices {
		dev := dev
		wg.Go(func() {
			n, err := sweepDeviceSafe(dev, lastJournalSeq)

			mu.Lock()
			defer mu.Unlock()
			results = append(results, Result{Device: dev, Cleared: n})
			if err != nil {
				errs = multierr.Append(errs, err)
			}
		})
	}
	wg.Wait()

	return results, errs
}

func sweepDeviceSafe(dev *devicetable.Device, lastJournalSeq uint64) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bucketfs: sweep of device %s panicked: %v", dev.ID, r)
		}
	}()
	return sweepDevice(dev, lastJournalSeq), nil
}

// sweepDevice clears every stale journal_seq_valid bit on dev and
// returns how many buckets it touched. It reads dev's table once and
// walks that snapshot; a concurrent resize simply means this pass
// finishes against the pre-resize table, which the next scheduled sweep
// will pick back up on the resized one.
func sweepDevice(dev *devicetable.Device, lastJournalSeq uint64) int {
	t := dev.Table()
	cleared := 0

	t.IterateAll(func(b uint64, m types.BucketMark) {
		if !m.JournalSeqValid() || !types.JournalSeqOlder(m.JournalSeq(), lastJournalSeq) {
			return
		}
		word := t.Mark(b)
		_, new := word.Mutate(func(cur types.BucketMark) types.BucketMark {
			if !cur.JournalSeqValid() || !types.JournalSeqOlder(cur.JournalSeq(), lastJournalSeq) {
				return cur
			}
			return cur.WithJournalSeqValid(false)
		})
		if !new.JournalSeqValid() {
			cleared++
		}
	})

	return cleared
}
