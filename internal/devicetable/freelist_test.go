package devicetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFreeListFIFOOrder(t *testing.T) {
	var f FreeList
	f.Push(3)
	f.Push(7)
	f.Push(9)

	b, ok := f.Pop()
	assert.True(t, ok)
	assert.Equal(t, uint64(3), b)
	assert.Equal(t, 2, f.Len())
}

func TestFreeListPopEmptyReturnsFalse(t *testing.T) {
	var f FreeList
	_, ok := f.Pop()
	assert.False(t, ok)
}

func TestFreeListSwapFromMovesAndClearsSource(t *testing.T) {
	var src, dst FreeList
	src.Push(1)
	src.Push(2)

	dst.SwapFrom(&src)

	assert.Equal(t, 2, dst.Len())
	assert.Equal(t, 0, src.Len())
}
