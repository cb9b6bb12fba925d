package percpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseHandleRoundTrip(t *testing.T) {
	h := AcquireHandle()
	defer ReleaseHandle(h)
	assert.Less(t, h.Shard(), uint32(MaxShards))
}

func TestAcquireHandleDoesNotReuseALiveSlot(t *testing.T) {
	seen := map[uint32]bool{}
	handles := make([]Handle, 0, MaxShards)
	for i := 0; i < MaxShards; i++ {
		h := AcquireHandle()
		require.False(t, seen[h.Shard()], "shard %d handed out twice while still live", h.Shard())
		seen[h.Shard()] = true
		handles = append(handles, h)
	}
	for _, h := range handles {
		ReleaseHandle(h)
	}
}

func TestReleaseFreesFullCapacityAgain(t *testing.T) {
	held := make([]Handle, 0, MaxShards)
	for i := 0; i < MaxShards; i++ {
		held = append(held, AcquireHandle())
	}
	for _, h := range held {
		ReleaseHandle(h)
	}
	// Every slot is free again; a fresh full round should succeed without
	// panicking on "too many concurrent handles".
	held = held[:0]
	for i := 0; i < MaxShards; i++ {
		held = append(held, AcquireHandle())
	}
	for _, h := range held {
		ReleaseHandle(h)
	}
}
