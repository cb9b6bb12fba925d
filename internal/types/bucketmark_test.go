package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketMarkFieldRoundTrip(t *testing.T) {
	m := BucketMark(0)
	m = m.WithGen(200)
	m = m.WithDataType(DataTypeUser)
	m = m.WithOwnedByAllocator(true)
	m = m.WithDirtySectors(1234)
	m = m.WithCachedSectors(5678)
	m = m.WithStripe(true)
	m = m.WithJournalSeqValid(true)
	m = m.WithJournalSeq(999)

	assert.Equal(t, uint8(200), m.Gen())
	assert.Equal(t, DataTypeUser, m.DataType())
	assert.True(t, m.OwnedByAllocator())
	assert.Equal(t, uint32(1234), m.DirtySectors())
	assert.Equal(t, uint32(5678), m.CachedSectors())
	assert.True(t, m.Stripe())
	assert.True(t, m.JournalSeqValid())
	assert.Equal(t, uint64(999), m.JournalSeq())
}

func TestBucketMarkFieldsAreIndependent(t *testing.T) {
	m := BucketMark(0).WithGen(255).WithDirtySectors(sectorMax).WithCachedSectors(sectorMax)
	m = m.WithDataType(DataTypeBtree)
	require.Equal(t, uint8(255), m.Gen(), "setting data type must not disturb gen")
	require.Equal(t, uint32(sectorMax), m.DirtySectors())
	require.Equal(t, uint32(sectorMax), m.CachedSectors())
}

func TestBucketMarkFreeIsZeroWord(t *testing.T) {
	assert.True(t, BucketMark(0).Free())
	assert.False(t, BucketMark(0).WithGen(1).Free())
}

func TestBucketMarkDerivedStates(t *testing.T) {
	cases := []struct {
		name  string
		mark  BucketMark
		free  bool
		cache bool
		dirty bool
		meta  bool
		avail bool
	}{
		{"zero", BucketMark(0), true, false, false, false, true},
		{"allocator owned", BucketMark(0).WithOwnedByAllocator(true), false, false, false, false, false},
		{"cached only", BucketMark(0).WithCachedSectors(10), false, true, false, false, true},
		{"dirty", BucketMark(0).WithDirtySectors(10), false, false, true, false, false},
		{"dirty and cached", BucketMark(0).WithDirtySectors(1).WithCachedSectors(1), false, false, true, false, false},
		{"metadata btree", BucketMark(0).WithDataType(DataTypeBtree), false, false, false, true, false},
		{"metadata sb", BucketMark(0).WithDataType(DataTypeSB), false, false, false, true, false},
		{"user data type alone isn't metadata", BucketMark(0).WithDataType(DataTypeUser), false, false, false, false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.free, c.mark.Free(), "Free")
			assert.Equal(t, c.cache, c.mark.Cached(), "Cached")
			assert.Equal(t, c.dirty, c.mark.Dirty(), "Dirty")
			assert.Equal(t, c.meta, c.mark.Metadata(), "Metadata")
			assert.Equal(t, c.avail, c.mark.Available(), "Available")
			assert.Equal(t, !c.avail, c.mark.Unavailable(), "Unavailable")
		})
	}
}

func TestGenAfterWraparound(t *testing.T) {
	assert.True(t, GenAfter(1, 0))
	assert.False(t, GenAfter(0, 1))
	assert.False(t, GenAfter(5, 5))
	// wraparound: 0 is "after" 255
	assert.True(t, GenAfter(0, 255))
	assert.False(t, GenAfter(255, 0))
}

func TestJournalSeqOlderWraparound(t *testing.T) {
	assert.True(t, JournalSeqOlder(5, 10))
	assert.False(t, JournalSeqOlder(10, 5))
	assert.False(t, JournalSeqOlder(7, 7))

	max := uint64(journalSeqMax)
	// max+1 wraps to 0 in the 19-bit field; 0 should read as "newer" than max.
	assert.True(t, JournalSeqOlder(max, 0))
	assert.False(t, JournalSeqOlder(0, max))
}

func TestJournalSeqWithSetterWrapsModuloFieldWidth(t *testing.T) {
	m := BucketMark(0).WithJournalSeq(uint64(journalSeqMax) + 1)
	assert.Equal(t, uint64(0), m.JournalSeq())
}
