package types

import "errors"

// Sentinel errors returned by the accounting core. Callers use errors.Is
// against these rather than string matching, matching the rest of the
// codebase's fmt.Errorf("...: %w", err) wrapping style.
var (
	// ErrNoMemory is returned by allocation paths (device bucket table
	// alloc/resize). No state is mutated when this is returned.
	ErrNoMemory = errors.New("bucketfs: allocation failed")

	// ErrNoSpace is returned by reservation acquisition when neither the
	// per-CPU cache nor a recalculated global pool can satisfy the
	// request and the caller did not set the NoFail flag.
	ErrNoSpace = errors.New("bucketfs: insufficient disk space")

	// ErrStaleGen marks the wraparound-aware "pointer refers to an
	// already-invalidated bucket" condition. It is never returned to a
	// caller: mark_pointer treats it as a silent no-op once the alloc
	// btree has finished loading, and as ErrInconsistency before that.
	ErrStaleGen = errors.New("bucketfs: pointer generation older than bucket generation")

	// ErrMissingStripe is returned when a stripe pointer references a
	// stripe index with no live record.
	ErrMissingStripe = errors.New("bucketfs: missing or dead stripe")

	// ErrInconsistency covers debug-detectable accounting bugs: a
	// negative counter, a live-bucket transition to unavailable outside
	// GC, an allocator-ownership flag flipped on a bucket that isn't
	// transitioning through the allocator.
	ErrInconsistency = errors.New("bucketfs: accounting inconsistency")

	// ErrOverflow is returned when a checked add to a packed sector
	// field would exceed its bit width.
	ErrOverflow = errors.New("bucketfs: sector counter overflow")
)
