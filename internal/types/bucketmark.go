package types

// DataType classifies what a bucket's sectors are holding. It is packed
// into 4 bits of a BucketMark, so it must never exceed 15.
type DataType uint8

const (
	DataTypeNone DataType = iota
	DataTypeSB
	DataTypeJournal
	DataTypeBtree
	DataTypeUser
	DataTypeCached
)

func (t DataType) String() string {
	switch t {
	case DataTypeNone:
		return "none"
	case DataTypeSB:
		return "sb"
	case DataTypeJournal:
		return "journal"
	case DataTypeBtree:
		return "btree"
	case DataTypeUser:
		return "user"
	case DataTypeCached:
		return "cached"
	default:
		return "unknown"
	}
}

// Bit widths and offsets of the packed BucketMark word (spec §3).
//
//	gen                 8   [0, 8)
//	data_type           4   [8, 12)
//	owned_by_allocator  1   [12, 13)
//	dirty_sectors      15   [13, 28)
//	cached_sectors     15   [28, 43)
//	stripe              1   [43, 44)
//	journal_seq_valid   1   [44, 45)
//	journal_seq        19   [45, 64)
const (
	genBits     = 8
	genShift    = 0
	dataTyBits  = 4
	dataTyShift = genShift + genBits

	ownedShift = dataTyShift + dataTyBits

	sectorBits    = 15
	sectorMax     = 1<<sectorBits - 1
	dirtyShift    = ownedShift + 1
	cachedShift   = dirtyShift + sectorBits
	stripeShift   = cachedShift + sectorBits
	jSeqValidBit  = stripeShift + 1
	journalShift  = jSeqValidBit + 1
	journalBits   = 64 - journalShift
	journalSeqMax = 1<<journalBits - 1
)

func mask(bits uint) uint64 { return 1<<bits - 1 }

// BucketMark is the fixed-width, atomically-updated per-bucket state
// record described in spec §3. It is deliberately a plain uint64 wrapper
// (not a struct of separate fields) so that it fits in a single atomic
// word: splitting the fields across separate atomics would reintroduce
// tearing between a bucket's gen, data type and sector counts.
type BucketMark uint64

// Gen returns the 8-bit generation counter.
func (m BucketMark) Gen() uint8 {
	return uint8(uint64(m) >> genShift & mask(genBits))
}

// WithGen returns m with its generation field replaced.
func (m BucketMark) WithGen(gen uint8) BucketMark {
	return m.set(genShift, genBits, uint64(gen))
}

// DataType returns the bucket's data type.
func (m BucketMark) DataType() DataType {
	return DataType(uint64(m) >> dataTyShift & mask(dataTyBits))
}

// WithDataType returns m with its data type field replaced.
func (m BucketMark) WithDataType(t DataType) BucketMark {
	return m.set(dataTyShift, dataTyBits, uint64(t))
}

// OwnedByAllocator reports whether the bucket is on a free list or is an
// open bucket.
func (m BucketMark) OwnedByAllocator() bool {
	return uint64(m)>>ownedShift&1 != 0
}

// WithOwnedByAllocator returns m with the allocator-ownership bit set or
// cleared.
func (m BucketMark) WithOwnedByAllocator(owned bool) BucketMark {
	return m.set(ownedShift, 1, boolBit(owned))
}

// DirtySectors returns the count of sectors holding must-keep data.
func (m BucketMark) DirtySectors() uint32 {
	return uint32(uint64(m) >> dirtyShift & mask(sectorBits))
}

// WithDirtySectors returns m with its dirty sector count replaced. The
// caller is responsible for range checking via
// bucketmark.CheckedAddSectors; this setter silently truncates to the
// field width.
func (m BucketMark) WithDirtySectors(n uint32) BucketMark {
	return m.set(dirtyShift, sectorBits, uint64(n)&sectorMax)
}

// CachedSectors returns the count of sectors holding discardable copies.
func (m BucketMark) CachedSectors() uint32 {
	return uint32(uint64(m) >> cachedShift & mask(sectorBits))
}

// WithCachedSectors returns m with its cached sector count replaced.
func (m BucketMark) WithCachedSectors(n uint32) BucketMark {
	return m.set(cachedShift, sectorBits, uint64(n)&sectorMax)
}

// Stripe reports whether the bucket participates in an erasure-coded
// stripe.
func (m BucketMark) Stripe() bool {
	return uint64(m)>>stripeShift&1 != 0
}

// WithStripe returns m with the stripe bit set or cleared.
func (m BucketMark) WithStripe(v bool) BucketMark {
	return m.set(stripeShift, 1, boolBit(v))
}

// JournalSeqValid reports whether JournalSeq is meaningful.
func (m BucketMark) JournalSeqValid() bool {
	return uint64(m)>>jSeqValidBit&1 != 0
}

// WithJournalSeqValid returns m with the journal_seq_valid bit set or
// cleared.
func (m BucketMark) WithJournalSeqValid(v bool) BucketMark {
	return m.set(jSeqValidBit, 1, boolBit(v))
}

// JournalSeq returns the last journal sequence that touched this bucket,
// modulo the field's bit budget.
func (m BucketMark) JournalSeq() uint64 {
	return uint64(m) >> journalShift & mask(journalBits)
}

// WithJournalSeq returns m with its journal sequence replaced, wrapped
// modulo the field width.
func (m BucketMark) WithJournalSeq(seq uint64) BucketMark {
	return m.set(journalShift, journalBits, seq&journalSeqMax)
}

func (m BucketMark) set(shift, bits uint, v uint64) BucketMark {
	cleared := uint64(m) &^ (mask(bits) << shift)
	return BucketMark(cleared | (v&mask(bits))<<shift)
}

func boolBit(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// Free reports the mark's derived "free" state: the whole word is zero.
func (m BucketMark) Free() bool { return m == 0 }

// Cached reports the mark's derived "cached" state.
func (m BucketMark) Cached() bool {
	return !m.OwnedByAllocator() && m.DirtySectors() == 0 && m.CachedSectors() > 0
}

// Dirty reports the mark's derived "dirty" state.
func (m BucketMark) Dirty() bool {
	return !m.OwnedByAllocator() && m.DirtySectors() > 0
}

// EffectiveDataType returns the data type a bucket's occupancy is
// counted under (buckets.c:287-291 bucket_type): a bucket holding only
// cached sectors counts as DataTypeCached regardless of the raw
// DataType its pointers were marked with.
func (m BucketMark) EffectiveDataType() DataType {
	if m.CachedSectors() > 0 && m.DirtySectors() == 0 {
		return DataTypeCached
	}
	return m.DataType()
}

// Metadata reports the mark's derived "metadata" state.
func (m BucketMark) Metadata() bool {
	if m.OwnedByAllocator() {
		return false
	}
	switch m.DataType() {
	case DataTypeSB, DataTypeJournal, DataTypeBtree:
		return true
	default:
		return false
	}
}

// Available reports whether the bucket is safely invalidable: free or
// cached.
func (m BucketMark) Available() bool {
	return m.Free() || m.Cached()
}

// Unavailable reports whether the bucket is neither free nor cached.
// Dirty, metadata and allocator-owned buckets are unavailable, and so is
// any other non-zero mark without cached-only data (for example one that
// carries only a data type or a journal_seq).
func (m BucketMark) Unavailable() bool {
	return !m.Available()
}

// GenAfter reports whether generation a is "after" generation b using
// wraparound-aware comparison (mod 256). When a bucket's current gen is
// after a pointer's gen, the bucket has been invalidated since the
// pointer was written and the pointer is stale.
func GenAfter(a, b uint8) bool {
	return int8(a-b) > 0
}

// JournalSeqBits is the bit width of the packed journal_seq field,
// exported for the bucket-seq cleanup pass (spec §4.6), which needs it
// to reason about wraparound at the same granularity the field wraps at.
const JournalSeqBits = journalBits

// JournalSeqOlder reports whether journal sequence a predates b using
// wraparound-aware comparison over the field's bit width, the same
// sign-extension trick GenAfter uses at 8 bits.
func JournalSeqOlder(a, b uint64) bool {
	diff := (a - b) & mask(JournalSeqBits)
	shift := 64 - JournalSeqBits
	return int64(diff<<shift)>>shift < 0
}
