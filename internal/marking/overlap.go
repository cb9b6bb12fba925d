package marking

import (
	"github.com/deploymenttheory/go-bucketfs/internal/percpu"
	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

// OverlapKind classifies how an existing extent key relates to the range
// of a newly inserted one (spec §4.4 "Btree-node overlap accounting").
type OverlapKind uint8

const (
	// OverlapNone means the two ranges do not intersect at all; the
	// caller should not have included this key in the overlap walk.
	OverlapNone OverlapKind = iota
	// OverlapAll means the existing key lies entirely inside the new
	// key's range.
	OverlapAll
	// OverlapFront means the new key overwrites the leading portion of
	// the existing key; the existing key's trailing portion survives
	// untouched.
	OverlapFront
	// OverlapBack means the new key overwrites the trailing portion of
	// the existing key; the leading portion survives untouched.
	OverlapBack
	// OverlapMiddle means the new key splits the existing key into a
	// surviving left remnant (still marked under the existing key) and a
	// surviving right remnant (re-marked as a freshly inserted key).
	OverlapMiddle
)

// ComputeOverlap classifies [oldStart,oldEnd) against the newly inserted
// [newStart,newEnd).
func ComputeOverlap(oldStart, oldEnd, newStart, newEnd uint64) OverlapKind {
	if newEnd <= oldStart || newStart >= oldEnd {
		return OverlapNone
	}
	switch {
	case newStart <= oldStart && newEnd >= oldEnd:
		return OverlapAll
	case newStart <= oldStart && newEnd < oldEnd:
		return OverlapFront
	case newStart > oldStart && newEnd >= oldEnd:
		return OverlapBack
	default:
		return OverlapMiddle
	}
}

// ExistingExtent bundles a btree node's already-present extent key with
// the position mark_update needs to evaluate gc_visited against.
type ExistingExtent struct {
	Pos    types.Pos
	Extent types.Extent
}

// MarkUpdate walks the existing extent keys a new insertion at newPos
// overlaps and unmarks (or, for the MIDDLE case, partially re-marks) the
// sectors those overlaps supersede (spec §4.4 mark_update). It does not
// mark the newly inserted key itself; the caller does that with a
// separate MarkKey call, exactly as mark_update's caller inserts the new
// key through the ordinary btree-insert path.
func (e *Engine) MarkUpdate(h percpu.Handle, newStart, newEnd uint64, newPos types.Pos, existing []ExistingExtent, fsDelta *types.UsageDelta, journalSeq uint64, gc bool) error {
	for _, old := range existing {
		kind := ComputeOverlap(old.Extent.Start, old.Extent.End, newStart, newEnd)
		switch kind {
		case OverlapNone:
			continue
		case OverlapAll:
			length := int64(old.Extent.End - old.Extent.Start)
			if err := e.markExtent(h, old.Extent, -length, old.Pos, fsDelta, journalSeq, gc); err != nil {
				return err
			}
		case OverlapFront:
			length := int64(newEnd - old.Extent.Start)
			if err := e.markExtent(h, old.Extent, -length, old.Pos, fsDelta, journalSeq, gc); err != nil {
				return err
			}
		case OverlapBack:
			length := int64(old.Extent.End - newStart)
			if err := e.markExtent(h, old.Extent, -length, old.Pos, fsDelta, journalSeq, gc); err != nil {
				return err
			}
		case OverlapMiddle:
			// The right-hand remnant [newEnd, old.End) survives as a
			// fresh key and must be re-marked as a new insertion first.
			rightLen := int64(old.Extent.End - newEnd)
			if rightLen > 0 {
				if err := e.markExtent(h, old.Extent, rightLen, newPos, fsDelta, journalSeq, gc); err != nil {
					return err
				}
			}
			// The old key's net surviving footprint after the split is
			// [old.Start, newStart) + [newEnd, old.End); the second piece
			// was just re-marked above as a fresh insertion, so unmarking
			// the right-anchored range [newStart, old.End) leaves exactly
			// that untouched prefix still marked once.
			leftLen := int64(old.Extent.End - newStart)
			if err := e.markExtent(h, old.Extent, -leftLen, old.Pos, fsDelta, journalSeq, gc); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarkOverwrite implements the non-extent btree rule "same key ->
// overwrite" (spec §4.4): unmark the old key in full, then mark the new
// one, both via the ordinary MarkKey path.
func (e *Engine) MarkOverwrite(h percpu.Handle, oldKey, newKey types.Key, sectors int64, pos types.Pos, fsDelta *types.UsageDelta, journalSeq uint64, gc bool) error {
	if err := e.MarkKey(h, oldKey, false, sectors, pos, fsDelta, journalSeq, gc); err != nil {
		return err
	}
	return e.MarkKey(h, newKey, true, sectors, pos, fsDelta, journalSeq, gc)
}
